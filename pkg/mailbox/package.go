// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mailbox

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Package is a context package exchanged between agents. Its Payload is opaque to the relay; only Target is
// ever read for routing. A Package must not be modified after it was submitted.
type Package struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender,omitempty"`
	Target    string          `json:"target,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Turn is a single conversation entry inside a ContextPayload.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextPayload is the typed view of the payload agents usually exchange. All fields are optional.
type ContextPayload struct {
	System       string   `json:"system,omitempty"`
	Memory       []string `json:"memory,omitempty"`
	Conversation []Turn   `json:"conversation,omitempty"`
	CurrentTask  string   `json:"current_task,omitempty"`
}

// Context decodes the Payload as a ContextPayload. Unknown fields are ignored.
func (p Package) Context() (cp ContextPayload, err error) {
	if len(p.Payload) == 0 {
		err = fmt.Errorf("package %s has no payload", p.ID)
		return
	}

	err = json.Unmarshal(p.Payload, &cp)
	return
}

func (p Package) String() string {
	return fmt.Sprintf("Package(%s, %s -> %s)", p.ID, p.Sender, p.Target)
}
