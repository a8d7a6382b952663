// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/ctxrelay/ctxrelay-go/pkg/livestate"
)

// codec of a WebSocket connection.
type codec int

const (
	codecJSON codec = iota
	codecCBOR
)

func (c codec) String() string {
	if c == codecCBOR {
		return "cbor"
	}
	return "json"
}

const (
	wsTypeRequestStatus = "request_status"
	wsTypeRequestState  = "request_state"
	wsTypeSendMessage   = "send_message"
)

// webAgentClient is a single WebSocket connection, registered as a livestate.Sink.
type webAgentClient struct {
	sync.Mutex

	agent *WebSocketAgent
	conn  *websocket.Conn
	id    string
	codec codec

	shutdownOnce sync.Once
}

func newWebAgentClient(agent *WebSocketAgent, conn *websocket.Conn, id string, c codec) *webAgentClient {
	return &webAgentClient{
		agent: agent,
		conn:  conn,
		id:    id,
		codec: c,
	}
}

func (client *webAgentClient) log() *log.Entry {
	return log.WithFields(log.Fields{
		"web agent client": client.conn.RemoteAddr().String(),
		"observer":         client.id,
		"codec":            client.codec,
	})
}

// start registers this client and blocks until the connection is closed.
func (client *webAgentClient) start() {
	defer client.shutdown()

	if err := client.agent.publisher.Register(client.id, client); err != nil {
		client.log().WithError(err).Warn("Registering observer errored")

		if errors.Is(err, livestate.ErrObserverExists) {
			_ = client.Send(livestate.Event{
				Type:      livestate.EventError,
				Data:      livestate.ErrorData{Message: err.Error()},
				Timestamp: time.Now(),
			})
		}
		return
	}
	defer client.agent.publisher.UnregisterSink(client.id, client)

	client.handleConn()
}

func (client *webAgentClient) shutdown() {
	client.shutdownOnce.Do(func() {
		client.log().Debug("Reached shutdown")
		_ = client.conn.Close()
	})
}

// Send an Event as a single frame. This method implements livestate.Sink.
func (client *webAgentClient) Send(e livestate.Event) error {
	client.Lock()
	defer client.Unlock()

	if err := client.conn.SetWriteDeadline(time.Now().Add(client.agent.opts.WriteTimeout)); err != nil {
		return err
	}

	switch client.codec {
	case codecCBOR:
		wam, err := newEventMessage(e)
		if err != nil {
			return err
		}
		return client.writeFrame(websocket.BinaryMessage, func(w io.Writer) error { return marshalCbor(wam, w) })

	default:
		return client.writeFrame(websocket.TextMessage, func(w io.Writer) error { return json.NewEncoder(w).Encode(e) })
	}
}

func (client *webAgentClient) writeFrame(messageType int, f func(io.Writer) error) error {
	wc, wcErr := client.conn.NextWriter(messageType)
	if wcErr != nil {
		return wcErr
	}

	if err := f(wc); err != nil {
		_ = wc.Close()
		return err
	}

	return wc.Close()
}

// Close the connection. The livestate.Publisher calls this on eviction.
func (client *webAgentClient) Close() error {
	client.shutdown()
	return nil
}

func (client *webAgentClient) handleConn() {
	var logger = client.log()

	for {
		messageType, reader, err := client.conn.NextReader()
		if err != nil {
			var netErr *net.OpError
			if errors.As(err, &netErr) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("Connection was closed")
			} else {
				logger.WithError(err).Warn("Opening next WebSocket Reader errored")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			data, readErr := io.ReadAll(reader)
			if readErr != nil {
				logger.WithError(readErr).Warn("Reading WebSocket text frame errored")
				return
			}
			client.handleJSON(data)

		case websocket.BinaryMessage:
			wam, wamErr := unmarshalCbor(reader)
			if wamErr != nil {
				logger.WithError(wamErr).Warn("Unmarshal CBOR errored")
				client.agent.reportError(client.id, wamErr)
				continue
			}
			client.handleCbor(wam)
		}
	}
}

// handleJSON processes a text frame. Invalid JSON is ignored.
func (client *webAgentClient) handleJSON(data []byte) {
	var logger = client.log()

	if !gjson.ValidBytes(data) {
		logger.Debug("Ignoring invalid JSON frame")
		return
	}

	var err error
	switch msgType := gjson.GetBytes(data, "type").String(); msgType {
	case wsTypeRequestStatus, wsTypeRequestState:
		logger.Debug("Received state request")
		err = client.agent.requestState(client.id)

	case wsTypeSendMessage:
		payload := gjson.GetBytes(data, "data")
		if !payload.IsObject() {
			err = fmt.Errorf("%s requires a data object", wsTypeSendMessage)
			break
		}

		target := packageTarget([]byte(payload.Raw))
		logger.WithField("target", target).Info("Received package")
		err = client.agent.sendPackage(target, []byte(payload.Raw))

	default:
		err = fmt.Errorf("unsupported message type %q", msgType)
	}

	if err != nil {
		logger.WithError(err).Info("Handling message errored")
		client.agent.reportError(client.id, err)
	}
}

// handleCbor processes a binary frame.
func (client *webAgentClient) handleCbor(wam webAgentMessage) {
	var logger = client.log()

	var err error
	switch wam := wam.(type) {
	case *wamRequestState:
		logger.Debug("Received state request")
		err = client.agent.requestState(client.id)

	case *wamSendPackage:
		logger.WithField("target", wam.target).Info("Received package")
		err = client.agent.sendPackage(wam.target, wam.payload)

	default:
		err = fmt.Errorf("unsupported frame type code %d", wam.typeCode())
	}

	if err != nil {
		logger.WithError(err).Info("Handling message errored")
		client.agent.reportError(client.id, err)
	}
}
