// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics holds the Prometheus collectors of a relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PackagesSubmitted counts accepted submissions by sender.
	PackagesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxrelay_packages_submitted_total",
			Help: "Total context packages accepted for routing",
		},
		[]string{"sender"},
	)

	// SubmissionsRejected counts submissions failing validation, by reason.
	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxrelay_submissions_rejected_total",
			Help: "Total submissions rejected before any mailbox mutation",
		},
		[]string{"reason"},
	)

	// Deliveries counts per-mailbox enqueue attempts. Result is "ok" or "failed".
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxrelay_deliveries_total",
			Help: "Total enqueue attempts per recipient mailbox",
		},
		[]string{"recipient", "result"},
	)

	// PackagesRetrieved counts drained packages per recipient.
	PackagesRetrieved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxrelay_packages_retrieved_total",
			Help: "Total context packages drained from mailboxes",
		},
		[]string{"recipient"},
	)

	// QueueLength is the last observed mailbox length per recipient.
	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctxrelay_queue_length",
			Help: "Current number of queued packages per recipient",
		},
		[]string{"recipient"},
	)

	// Observers currently connected to the live-state publisher.
	Observers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctxrelay_observers",
			Help: "Currently registered live-state observers",
		},
	)

	// ObserverEvictions counts observers removed after a failed or stalled send.
	ObserverEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctxrelay_observer_evictions_total",
			Help: "Total observers evicted due to send failures",
		},
	)

	// EventsPublished counts published live-state events by type.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxrelay_events_published_total",
			Help: "Total live-state events fanned out",
		},
		[]string{"type"},
	)

	// HTTPRequests counts handled REST requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxrelay_http_requests_total",
			Help: "Total REST requests",
		},
		[]string{"route", "status"},
	)
)

// Handler serves all registered collectors, e.g., on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
