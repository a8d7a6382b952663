// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package livestate

import (
	"fmt"
	"time"

	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
)

const (
	// EventSystemState carries a SystemState, sent on registration and on request.
	EventSystemState = "system_state"

	// EventMetrics carries a Metrics, sent by the heartbeat.
	EventMetrics = "metrics_update"

	// EventError carries an ErrorData, sent to a single observer.
	EventError = "error"
)

// Event is the unit sent to an observer.
//
// Seq numbers all published events of a Publisher. A SystemState's Seq is the number of the last event it
// already includes. Events addressed to a single observer, e.g., errors, carry the current Seq as well.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	Seq       uint64      `json:"seq"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event(%s, %d)", e.Type, e.Seq)
}

// SystemState is the full view on all mailboxes.
type SystemState struct {
	Apps     []string          `json:"apps"`
	Queues   map[string]int    `json:"queues"`
	Messages []mailbox.Package `json:"messages"`
	Total    int               `json:"total_messages"`
	Seq      uint64            `json:"seq"`
}

// Metrics is the heartbeat's payload.
type Metrics struct {
	QueueSizes        map[string]int `json:"queue_sizes"`
	TotalMessages     int            `json:"total_messages"`
	ActiveConnections int            `json:"active_connections"`
}

// ErrorData reports a failed observer request back to this observer.
type ErrorData struct {
	Message string `json:"message"`
}
