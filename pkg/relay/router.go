// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package relay

import (
	"bytes"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
	"github.com/ctxrelay/ctxrelay-go/pkg/metrics"
)

const (
	// EventMessageEnqueued is published after each Submit with an EnqueuedEvent.
	EventMessageEnqueued = "message_enqueued"

	// EventQueueDrained is published after each Retrieve with a DrainedEvent.
	EventQueueDrained = "queue_drained"
)

// Notifier receives an event for each mailbox mutation. It must not block.
type Notifier interface {
	Publish(eventType string, data interface{})
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, interface{}) {}

// EnqueuedEvent is the payload of an EventMessageEnqueued.
type EnqueuedEvent struct {
	Message mailbox.Package `json:"message"`
	Targets []string        `json:"targets"`
	Failed  []string        `json:"failed,omitempty"`
}

// DrainedEvent is the payload of an EventQueueDrained.
type DrainedEvent struct {
	Recipient   string `json:"recipient"`
	Drained     int    `json:"drained"`
	QueueLength int    `json:"queue_length"`
}

// Delivery is the structured result of a Submit.
type Delivery struct {
	Package  mailbox.Package
	Targets  []string
	Failures []TargetFailure
}

// Err is nil for a complete delivery and a *PartialDeliveryError otherwise.
func (d Delivery) Err() error {
	if len(d.Failures) == 0 {
		return nil
	}
	return &PartialDeliveryError{Succeeded: d.Targets, Failed: d.Failures}
}

// FailedTargets returns the recipients of all Failures.
func (d Delivery) FailedTargets() (names []string) {
	for _, failure := range d.Failures {
		names = append(names, failure.Recipient)
	}
	return
}

// Router applies a RoutingConf's addressing policy to a mailbox.Store.
type Router struct {
	store    *mailbox.Store
	conf     RoutingConf
	notifier Notifier
}

// NewRouter for a Store created from the same RoutingConf. A nil Notifier discards all events; SetNotifier
// might attach one later.
func NewRouter(store *mailbox.Store, conf RoutingConf, notifier Notifier) (*Router, error) {
	if err := conf.CheckValid(); err != nil {
		return nil, err
	}

	for _, recipient := range conf.Recipients {
		if !store.Has(recipient) {
			return nil, fmt.Errorf("Store has no mailbox for recipient %q", recipient)
		}
	}
	if got, want := len(store.Recipients()), len(conf.Recipients); got != want {
		return nil, fmt.Errorf("Store has %d mailboxes, RoutingConf lists %d recipients", got, want)
	}

	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &Router{
		store:    store,
		conf:     conf,
		notifier: notifier,
	}, nil
}

// SetNotifier replaces the Notifier. This must happen before the Router is used concurrently.
func (r *Router) SetNotifier(notifier Notifier) {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	r.notifier = notifier
}

// Recipients in their configuration order.
func (r *Router) Recipients() []string {
	return r.store.Recipients()
}

// ExternalSender is the name for submissions of no registered agent.
func (r *Router) ExternalSender() string {
	return r.conf.external()
}

// Snapshot of the underlying Store.
func (r *Router) Snapshot() mailbox.Snapshot {
	return r.store.Snapshot()
}

// CheckPayload validates a raw payload to be a non-empty JSON object.
func CheckPayload(payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return ErrEmptySubmission
	} else if !gjson.ValidBytes(payload) {
		return fmt.Errorf("%w: invalid JSON", ErrMalformedSubmission)
	}

	result := gjson.ParseBytes(payload)
	if !result.IsObject() {
		return fmt.Errorf("%w: payload is no JSON object", ErrMalformedSubmission)
	}

	empty := true
	result.ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	if empty {
		return fmt.Errorf("%w: payload is an empty JSON object", ErrEmptySubmission)
	}

	return nil
}

func rejectReason(err error) string {
	switch err.(type) {
	case *RecipientError:
		return "unknown_recipient"
	default:
		return "invalid_payload"
	}
}

// validate a submission. No mailbox is touched before this succeeded.
func (r *Router) validate(source string, p mailbox.Package) error {
	if source != r.conf.external() && !r.store.Has(source) {
		return &RecipientError{Field: "sender", Name: source}
	}

	if err := CheckPayload(p.Payload); err != nil {
		return err
	}

	if p.Target != "" && !r.store.Has(p.Target) {
		return &RecipientError{Field: "target", Name: p.Target}
	}

	return nil
}

// Submit a Package from source, which must be a recipient or the external sender. An empty source is treated
// as the external sender.
//
// Validation errors are returned before any mailbox was modified. Otherwise, each resolved target is written
// independently; failures are listed in the Delivery. If all targets failed, ErrDeliveryFailed is returned
// together with the Delivery. An empty target list, e.g., a broadcast from the only recipient, is a success.
func (r *Router) Submit(source string, p mailbox.Package) (delivery Delivery, err error) {
	if source == "" {
		source = r.conf.external()
	}

	logger := log.WithFields(log.Fields{
		"sender": source,
		"target": p.Target,
	})

	if err = r.validate(source, p); err != nil {
		metrics.SubmissionsRejected.WithLabelValues(rejectReason(err)).Inc()
		logger.WithError(err).Warn("Router rejected submission")
		return
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.Sender = source

	delivery.Package = p
	delivery.Targets = []string{}

	for _, target := range r.conf.resolve(source, p.Target) {
		if enqErr := r.store.Enqueue(target, p); enqErr != nil {
			delivery.Failures = append(delivery.Failures, TargetFailure{Recipient: target, Err: enqErr})
			metrics.Deliveries.WithLabelValues(target, "failed").Inc()

			logger.WithError(enqErr).WithField("recipient", target).Warn("Router failed to enqueue package")
		} else {
			delivery.Targets = append(delivery.Targets, target)
			metrics.Deliveries.WithLabelValues(target, "ok").Inc()
		}
	}

	metrics.PackagesSubmitted.WithLabelValues(source).Inc()
	r.updateQueueGauges()

	r.notifier.Publish(EventMessageEnqueued, EnqueuedEvent{
		Message: p,
		Targets: delivery.Targets,
		Failed:  delivery.FailedTargets(),
	})

	logger.WithFields(log.Fields{
		"package": p.ID,
		"targets": delivery.Targets,
		"failed":  len(delivery.Failures),
	}).Info("Router enqueued package")

	if len(delivery.Failures) > 0 && len(delivery.Targets) == 0 {
		err = fmt.Errorf("%w: %w", ErrDeliveryFailed, delivery.Err())
	}
	return
}

// Retrieve drains a recipient's mailbox. An empty mailbox results in an empty slice and no error.
func (r *Router) Retrieve(recipient string) ([]mailbox.Package, error) {
	if !r.store.Has(recipient) {
		metrics.SubmissionsRejected.WithLabelValues("unknown_recipient").Inc()
		return nil, &RecipientError{Field: "recipient", Name: recipient}
	}

	pkgs, err := r.store.Drain(recipient)
	if err != nil {
		return nil, err
	}

	metrics.PackagesRetrieved.WithLabelValues(recipient).Add(float64(len(pkgs)))
	metrics.QueueLength.WithLabelValues(recipient).Set(0)

	r.notifier.Publish(EventQueueDrained, DrainedEvent{
		Recipient:   recipient,
		Drained:     len(pkgs),
		QueueLength: 0,
	})

	log.WithFields(log.Fields{
		"recipient": recipient,
		"drained":   len(pkgs),
	}).Debug("Router drained mailbox")

	return pkgs, nil
}

func (r *Router) updateQueueGauges() {
	for recipient, n := range r.store.Lengths() {
		metrics.QueueLength.WithLabelValues(recipient).Set(float64(n))
	}
}
