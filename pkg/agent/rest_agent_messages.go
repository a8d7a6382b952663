// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import "github.com/ctxrelay/ctxrelay-go/pkg/mailbox"

// RestSubmitResponse describes a JSON response for a submission.
type RestSubmitResponse struct {
	Status  string   `json:"status,omitempty"`
	Error   string   `json:"error,omitempty"`
	ID      string   `json:"id,omitempty"`
	Targets []string `json:"targets,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}

// RestRetrieveResponse describes a JSON response for a retrieval.
type RestRetrieveResponse struct {
	Error    string            `json:"error,omitempty"`
	Messages []mailbox.Package `json:"messages"`
}

// RestStateResponse describes a JSON response for /state.
type RestStateResponse struct {
	Apps     []string          `json:"apps"`
	Queues   map[string]int    `json:"queues"`
	Messages []mailbox.Package `json:"messages"`
	Total    int               `json:"total_messages"`
}

// RestRecipientsResponse describes a JSON response for /recipients.
type RestRecipientsResponse struct {
	Recipients     []string `json:"recipients"`
	ExternalSender string   `json:"external_sender"`
}

// RestErrorResponse describes a JSON response for a failed request without a more specific type.
type RestErrorResponse struct {
	Error string `json:"error"`
}

const (
	restStatusSuccess = "success"
	restStatusPartial = "partial"
)
