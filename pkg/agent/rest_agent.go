// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
	"github.com/ctxrelay/ctxrelay-go/pkg/metrics"
	"github.com/ctxrelay/ctxrelay-go/pkg/relay"
)

// DefaultMaxBodySize limits a submission's body if RestOptions does not.
const DefaultMaxBodySize int64 = 4 << 20

// RestOptions for a RestAgent.
type RestOptions struct {
	// Legacy enables the dual-purpose /receive_context/{recipient} endpoint.
	Legacy bool

	// MaxBodySize in bytes; zero selects DefaultMaxBodySize.
	MaxBodySize int64
}

// RestAgent is a RESTful agent interface for submitting and retrieving context packages.
type RestAgent struct {
	router *mux.Router
	relay  *relay.Router
	opts   RestOptions
}

// NewRestAgent registers its routes on the given mux.Router.
//
//   - POST /receive_context/{recipient}: retrieval for an empty body, submission otherwise (if Legacy)
//   - POST /submit/{sender}: submission, the body is the payload
//   - GET|POST /retrieve/{recipient}: retrieval, draining the mailbox
//   - GET /state: all queues and their packages
//   - GET /recipients: the configured recipients
func NewRestAgent(router *mux.Router, r *relay.Router, opts RestOptions) (ra *RestAgent) {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}

	ra = &RestAgent{
		router: router,
		relay:  r,
		opts:   opts,
	}

	if opts.Legacy {
		ra.router.HandleFunc("/receive_context/{recipient}", ra.handleReceiveContext).Methods(http.MethodPost)
	}
	ra.router.HandleFunc("/submit/{sender}", ra.handleSubmit).Methods(http.MethodPost)
	ra.router.HandleFunc("/retrieve/{recipient}", ra.handleRetrieve).Methods(http.MethodGet, http.MethodPost)
	ra.router.HandleFunc("/state", ra.handleState).Methods(http.MethodGet)
	ra.router.HandleFunc("/recipients", ra.handleRecipients).Methods(http.MethodGet)

	return ra
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint.
func (ra *RestAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ra.router.ServeHTTP(w, r)
}

// packageTarget reads a payload's routing target, either "target" or the older "target_app". The payload
// itself is not decoded.
func packageTarget(payload []byte) string {
	for _, field := range []string{"target", "target_app"} {
		if result := gjson.GetBytes(payload, field); result.Exists() && result.String() != "" {
			return result.String()
		}
	}
	return ""
}

// submitStatus maps a Submit result to a HTTP status code.
func submitStatus(delivery relay.Delivery, err error) int {
	switch {
	case err == nil && len(delivery.Failures) > 0:
		return http.StatusMultiStatus
	case err == nil:
		return http.StatusOK
	case errors.Is(err, relay.ErrDeliveryFailed):
		return http.StatusBadGateway
	case errors.Is(err, relay.ErrUnknownRecipient),
		errors.Is(err, relay.ErrEmptySubmission),
		errors.Is(err, relay.ErrMalformedSubmission):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// newSubmitResponse from a Submit result.
func newSubmitResponse(delivery relay.Delivery, err error) (resp RestSubmitResponse) {
	if err != nil {
		resp.Error = err.Error()
	} else if len(delivery.Failures) > 0 {
		resp.Status = restStatusPartial
		resp.Error = delivery.Err().Error()
	} else {
		resp.Status = restStatusSuccess
	}

	resp.ID = delivery.Package.ID
	resp.Targets = delivery.Targets
	resp.Failed = delivery.FailedTargets()
	return
}

func (ra *RestAgent) writeResponse(w http.ResponseWriter, route string, status int, v interface{}) {
	metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).WithField("route", route).Warn("Failed to write REST response")
	}
}

func (ra *RestAgent) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, ra.opts.MaxBodySize))
}

func (ra *RestAgent) submit(w http.ResponseWriter, route, sender string, body []byte) {
	p := mailbox.Package{
		Target:  packageTarget(body),
		Payload: json.RawMessage(body),
	}

	delivery, err := ra.relay.Submit(sender, p)
	resp := newSubmitResponse(delivery, err)

	log.WithFields(log.Fields{
		"route":    route,
		"sender":   sender,
		"response": resp,
	}).Debug("Processed REST submission")

	ra.writeResponse(w, route, submitStatus(delivery, err), resp)
}

func (ra *RestAgent) retrieve(w http.ResponseWriter, route, recipient string) {
	pkgs, err := ra.relay.Retrieve(recipient)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, relay.ErrUnknownRecipient) {
			status = http.StatusBadRequest
		}
		ra.writeResponse(w, route, status, RestErrorResponse{Error: err.Error()})
		return
	}

	log.WithFields(log.Fields{
		"route":     route,
		"recipient": recipient,
		"packages":  len(pkgs),
	}).Debug("Processed REST retrieval")

	ra.writeResponse(w, route, http.StatusOK, RestRetrieveResponse{Messages: pkgs})
}

// handleReceiveContext processes /receive_context/{recipient} POST requests.
func (ra *RestAgent) handleReceiveContext(w http.ResponseWriter, r *http.Request) {
	const route = "receive_context"
	recipient := mux.Vars(r)["recipient"]

	body, err := ra.readBody(w, r)
	if err != nil {
		ra.writeResponse(w, route, http.StatusBadRequest, RestErrorResponse{Error: err.Error()})
		return
	}

	if len(body) == 0 {
		ra.retrieve(w, route, recipient)
	} else {
		ra.submit(w, route, recipient, body)
	}
}

// handleSubmit processes /submit/{sender} POST requests.
func (ra *RestAgent) handleSubmit(w http.ResponseWriter, r *http.Request) {
	const route = "submit"

	body, err := ra.readBody(w, r)
	if err != nil {
		ra.writeResponse(w, route, http.StatusBadRequest, RestErrorResponse{Error: err.Error()})
		return
	}

	ra.submit(w, route, mux.Vars(r)["sender"], body)
}

// handleRetrieve processes /retrieve/{recipient} requests.
func (ra *RestAgent) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ra.retrieve(w, "retrieve", mux.Vars(r)["recipient"])
}

// handleState processes /state GET requests.
func (ra *RestAgent) handleState(w http.ResponseWriter, _ *http.Request) {
	snapshot := ra.relay.Snapshot()

	ra.writeResponse(w, "state", http.StatusOK, RestStateResponse{
		Apps:     ra.relay.Recipients(),
		Queues:   snapshot.Queues,
		Messages: snapshot.Messages,
		Total:    snapshot.Total,
	})
}

// handleRecipients processes /recipients GET requests.
func (ra *RestAgent) handleRecipients(w http.ResponseWriter, _ *http.Request) {
	ra.writeResponse(w, "recipients", http.StatusOK, RestRecipientsResponse{
		Recipients:     ra.relay.Recipients(),
		ExternalSender: ra.relay.ExternalSender(),
	})
}
