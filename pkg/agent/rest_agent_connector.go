// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
)

// RestAgentConnector is the client side version of the RestAgent.
type RestAgentConnector struct {
	baseUrl string
	client  *http.Client
}

// NewRestAgentConnector for a RestAgent reachable at baseUrl, e.g., http://localhost:9002.
func NewRestAgentConnector(baseUrl string) *RestAgentConnector {
	return &RestAgentConnector{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// do a request and decode its JSON response into v. A status code of 400 or above results in an error, except
// for a multi-status response.
func (rac *RestAgentConnector) do(method, path string, body []byte, v interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, rac.baseUrl+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := rac.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp RestErrorResponse
		if jsonErr := json.Unmarshal(data, &errResp); jsonErr == nil && errResp.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, errResp.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	return json.Unmarshal(data, v)
}

// Submit a JSON object payload from sender. The payload's "target" field selects a single recipient.
func (rac *RestAgentConnector) Submit(sender string, payload []byte) (resp RestSubmitResponse, err error) {
	err = rac.do(http.MethodPost, "/submit/"+url.PathEscape(sender), payload, &resp)
	return
}

// Retrieve and drain all packages queued for recipient.
func (rac *RestAgentConnector) Retrieve(recipient string) ([]mailbox.Package, error) {
	var resp RestRetrieveResponse
	if err := rac.do(http.MethodPost, "/retrieve/"+url.PathEscape(recipient), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// State of all mailboxes.
func (rac *RestAgentConnector) State() (resp RestStateResponse, err error) {
	err = rac.do(http.MethodGet, "/state", nil, &resp)
	return
}

// Recipients configured at the relay.
func (rac *RestAgentConnector) Recipients() (resp RestRecipientsResponse, err error) {
	err = rac.do(http.MethodGet, "/recipients", nil, &resp)
	return
}
