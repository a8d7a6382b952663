// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"io"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// EventFrame is a livestate.Event as received by a client. Its Data is left encoded.
type EventFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
}

func (ef EventFrame) String() string {
	return fmt.Sprintf("EventFrame(%s, %d)", ef.Type, ef.Seq)
}

// wsRequest is a client's JSON frame.
type wsRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketAgentConnector is the client side version of the WebSocketAgent.
type WebSocketAgentConnector struct {
	conn  *websocket.Conn
	codec codec

	msgOutChan chan func() error
	msgOutErr  chan error

	events chan EventFrame

	closeSyn chan struct{}
	closeAck chan struct{}
}

// NewWebSocketAgentConnector creates a new WebSocketAgentConnector connection to a WebSocketAgent. The codec is
// selected by apiUrl's query, e.g., ws://localhost:9002/ws/observer?codec=cbor.
func NewWebSocketAgentConnector(apiUrl string) (wac *WebSocketAgentConnector, err error) {
	u, err := url.Parse(apiUrl)
	if err != nil {
		return
	}

	var conn *websocket.Conn
	if conn, _, err = websocket.DefaultDialer.Dial(u.String(), nil); err != nil {
		return
	}

	wac = &WebSocketAgentConnector{
		conn:  conn,
		codec: codecJSON,

		msgOutChan: make(chan func() error),
		msgOutErr:  make(chan error),

		events: make(chan EventFrame, 64),

		closeSyn: make(chan struct{}),
		closeAck: make(chan struct{}),
	}
	if u.Query().Get("codec") == "cbor" {
		wac.codec = codecCBOR
	}

	go wac.handler()
	go wac.handleReader()

	return
}

func (wac *WebSocketAgentConnector) readFrame() (ef EventFrame, err error) {
	mt, r, rErr := wac.conn.NextReader()
	if rErr != nil {
		err = rErr
		return
	}

	switch mt {
	case websocket.TextMessage:
		var data []byte
		if data, err = io.ReadAll(r); err != nil {
			return
		}
		err = json.Unmarshal(data, &ef)

	case websocket.BinaryMessage:
		var wam webAgentMessage
		if wam, err = unmarshalCbor(r); err != nil {
			return
		} else if we, ok := wam.(*wamEvent); !ok {
			err = fmt.Errorf("expected event frame, got %T", wam)
		} else {
			ef = we.frame()
		}

	default:
		err = fmt.Errorf("unexpected message type %d", mt)
	}
	return
}

func (wac *WebSocketAgentConnector) handleReader() {
	defer close(wac.events)

	for {
		ef, err := wac.readFrame()
		if err != nil {
			return
		}

		select {
		case wac.events <- ef:
		case <-wac.closeSyn:
			return
		}
	}
}

func (wac *WebSocketAgentConnector) handler() {
	defer func() {
		close(wac.closeAck)
		_ = wac.conn.Close()
	}()

	for {
		select {
		case <-wac.closeSyn:
			return

		case f := <-wac.msgOutChan:
			wac.msgOutErr <- f()
		}
	}
}

// write passes a frame writing function to the handler, serializing all writes.
func (wac *WebSocketAgentConnector) write(f func() error) error {
	select {
	case wac.msgOutChan <- f:
		return <-wac.msgOutErr
	case <-wac.closeSyn:
		return fmt.Errorf("connector is closed")
	}
}

func (wac *WebSocketAgentConnector) writeJSON(req wsRequest) error {
	return wac.write(func() error {
		wc, err := wac.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return err
		}
		if err := json.NewEncoder(wc).Encode(req); err != nil {
			return err
		}
		return wc.Close()
	})
}

func (wac *WebSocketAgentConnector) writeCbor(wam webAgentMessage) error {
	return wac.write(func() error {
		wc, err := wac.conn.NextWriter(websocket.BinaryMessage)
		if err != nil {
			return err
		}
		if err := marshalCbor(wam, wc); err != nil {
			return err
		}
		return wc.Close()
	})
}

// Events returns a channel of all incoming EventFrames, starting with the initial system state. The channel is
// closed when the connection ends.
func (wac *WebSocketAgentConnector) Events() <-chan EventFrame {
	return wac.events
}

// RequestState asks the server for a fresh system state, which arrives as an EventFrame.
func (wac *WebSocketAgentConnector) RequestState() error {
	if wac.codec == codecCBOR {
		return wac.writeCbor(newRequestStateMessage())
	}
	return wac.writeJSON(wsRequest{Type: wsTypeRequestStatus})
}

// SendPackage submits a JSON object payload to a target as the relay's external sender. Errors are reported
// back asynchronously as an error EventFrame.
func (wac *WebSocketAgentConnector) SendPackage(target string, payload []byte) error {
	if wac.codec == codecCBOR {
		return wac.writeCbor(newSendPackageMessage(target, payload))
	}

	// The JSON codec reads the target from within the data object.
	data, err := setTarget(payload, target)
	if err != nil {
		return err
	}
	return wac.writeJSON(wsRequest{Type: wsTypeSendMessage, Data: data})
}

// setTarget adds or replaces a JSON object's "target" field.
func setTarget(payload []byte, target string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("payload is no JSON object: %w", err)
	} else if obj == nil {
		return nil, fmt.Errorf("payload is no JSON object")
	}

	targetJson, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}
	obj["target"] = targetJson

	return json.Marshal(obj)
}

// Close this WebSocketAgentConnector.
func (wac *WebSocketAgentConnector) Close() {
	defer func() {
		// channel is already closed
		_ = recover()
	}()

	close(wac.closeSyn)
	<-wac.closeAck
}
