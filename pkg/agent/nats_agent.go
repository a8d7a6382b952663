// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ctxrelay/ctxrelay-go/pkg/livestate"
	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
	"github.com/ctxrelay/ctxrelay-go/pkg/relay"
)

// DefaultSubjectPrefix for all subjects of a NatsAgent.
const DefaultSubjectPrefix = "ctxrelay"

// NatsAgent bridges a relay to a NATS server.
//
// It registers as an observer and publishes each Event as JSON on <prefix>.events.<type>. Submissions are
// accepted on <prefix>.submit.<sender>; a request's reply is a RestSubmitResponse.
type NatsAgent struct {
	conn      *nats.Conn
	publisher *livestate.Publisher
	relay     *relay.Router
	prefix    string
	id        string

	sub *nats.Subscription

	closeOnce sync.Once
}

// NewNatsAgent starts a NatsAgent on an established connection. An empty prefix selects DefaultSubjectPrefix.
func NewNatsAgent(conn *nats.Conn, publisher *livestate.Publisher, r *relay.Router, prefix string) (*NatsAgent, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	na := &NatsAgent{
		conn:      conn,
		publisher: publisher,
		relay:     r,
		prefix:    prefix,
		id:        "nats-" + uuid.NewString(),
	}

	sub, err := conn.Subscribe(na.submitSubject("*"), na.handleSubmit)
	if err != nil {
		return nil, err
	}
	na.sub = sub

	if err := publisher.Register(na.id, na); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	na.log().Info("Started NATS agent")
	return na, nil
}

func (na *NatsAgent) log() *log.Entry {
	return log.WithFields(log.Fields{
		"nats agent": na.id,
		"prefix":     na.prefix,
	})
}

func (na *NatsAgent) eventSubject(eventType string) string {
	return na.prefix + ".events." + eventType
}

func (na *NatsAgent) submitSubject(sender string) string {
	return na.prefix + ".submit." + sender
}

// Send publishes an Event. This method implements livestate.Sink.
func (na *NatsAgent) Send(e livestate.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return na.conn.Publish(na.eventSubject(e.Type), data)
}

func (na *NatsAgent) handleSubmit(msg *nats.Msg) {
	sender := strings.TrimPrefix(msg.Subject, na.submitSubject(""))

	delivery, err := na.relay.Submit(sender, mailbox.Package{
		Target:  packageTarget(msg.Data),
		Payload: msg.Data,
	})
	resp := newSubmitResponse(delivery, err)

	na.log().WithFields(log.Fields{
		"sender":   sender,
		"response": resp,
	}).Debug("Processed NATS submission")

	if msg.Reply == "" {
		return
	}

	data, jsonErr := json.Marshal(resp)
	if jsonErr != nil {
		na.log().WithError(jsonErr).Warn("Marshalling NATS submission response errored")
		return
	}
	if respErr := msg.Respond(data); respErr != nil {
		na.log().WithError(respErr).Warn("Responding to NATS submission errored")
	}
}

// Close unsubscribes and unregisters this NatsAgent. The NATS connection stays open.
func (na *NatsAgent) Close() error {
	var err error
	na.closeOnce.Do(func() {
		na.publisher.UnregisterSink(na.id, na)
		err = na.sub.Unsubscribe()
		na.log().Info("Closed NATS agent")
	})
	return err
}
