// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ctxrelay/ctxrelay-go/pkg/livestate"
	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
	"github.com/ctxrelay/ctxrelay-go/pkg/relay"
)

// DefaultWriteTimeout bounds each frame written to an observer if WebSocketOptions does not.
const DefaultWriteTimeout = 2 * time.Second

// errMissingTarget is reported to an observer sending a package without a target.
var errMissingTarget = errors.New("send_message requires a target")

// WebSocketOptions for a WebSocketAgent.
type WebSocketOptions struct {
	// WriteTimeout for each outgoing frame; zero selects DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// WebSocketAgent registers each WebSocket connection as an observer of a livestate.Publisher. It can be used
// together with the WebSocketAgentConnector.
//
// The observer's identifier is taken from the route's "observer" variable, e.g., /ws/{observer}, or generated
// otherwise. A "codec=cbor" query parameter selects binary CBOR frames instead of JSON text frames.
type WebSocketAgent struct {
	publisher *livestate.Publisher
	relay     *relay.Router
	opts      WebSocketOptions

	upgrader websocket.Upgrader
}

// NewWebSocketAgent for a Publisher. Packages sent by observers are submitted to the Router as its external
// sender. The ServeHTTP function must be bound to the HTTP server.
func NewWebSocketAgent(publisher *livestate.Publisher, r *relay.Router, opts WebSocketOptions) *WebSocketAgent {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	return &WebSocketAgent{
		publisher: publisher,
		relay:     r,
		opts:      opts,

		upgrader: websocket.Upgrader{
			// Origins are restricted by the CORS middleware in front of this handler.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP must be bound to a HTTP endpoint, e.g., to /ws and /ws/{observer} by a mux.Router.
func (w *WebSocketAgent) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["observer"]
	if id == "" {
		id = uuid.NewString()
	}

	codec := codecJSON
	if r.URL.Query().Get("codec") == "cbor" {
		codec = codecCBOR
	}

	conn, connErr := w.upgrader.Upgrade(rw, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	client := newWebAgentClient(w, conn, id, codec)
	client.start()
}

// requestState is called for an observer's request of the current system state.
func (w *WebSocketAgent) requestState(id string) error {
	return w.publisher.SendState(id)
}

// sendPackage submits an observer's package to its target.
func (w *WebSocketAgent) sendPackage(target string, payload []byte) error {
	if target == "" {
		return errMissingTarget
	}

	_, err := w.relay.Submit(w.relay.ExternalSender(), mailbox.Package{
		Target:  target,
		Payload: payload,
	})
	return err
}

// reportError sends an error Event back to a single observer.
func (w *WebSocketAgent) reportError(id string, err error) {
	if sendErr := w.publisher.SendTo(id, livestate.EventError, livestate.ErrorData{Message: err.Error()}); sendErr != nil {
		log.WithField("observer", id).WithError(sendErr).Debug("Reporting error to observer failed")
	}
}
