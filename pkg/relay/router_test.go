// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package relay

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
)

// recordingNotifier keeps all published events, only used for testing.
type recordingNotifier struct {
	sync.Mutex

	types []string
	data  []interface{}
}

func (rn *recordingNotifier) Publish(eventType string, data interface{}) {
	rn.Lock()
	defer rn.Unlock()

	rn.types = append(rn.types, eventType)
	rn.data = append(rn.data, data)
}

func (rn *recordingNotifier) events() ([]string, []interface{}) {
	rn.Lock()
	defer rn.Unlock()

	return rn.types, rn.data
}

func testConf() RoutingConf {
	return RoutingConf{
		Recipients: []string{"X", "Y", "Z"},
	}
}

func newTestRouter(t *testing.T, conf RoutingConf) (*Router, *mailbox.Store, *recordingNotifier) {
	store, err := conf.NewStore()
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	router, err := NewRouter(store, conf, notifier)
	if err != nil {
		t.Fatal(err)
	}
	return router, store, notifier
}

func createPackage(target string) mailbox.Package {
	return mailbox.Package{
		Target:  target,
		Payload: json.RawMessage(`{"summary":"Customer requesting refund for order #12345","urgency":"high"}`),
	}
}

func checkLengths(t *testing.T, store *mailbox.Store, expected map[string]int) {
	t.Helper()

	if lengths := store.Lengths(); !reflect.DeepEqual(lengths, expected) {
		t.Fatalf("expected queue lengths %v, got %v", expected, lengths)
	}
}

func TestRoutingConfCheckValid(t *testing.T) {
	tests := []struct {
		conf  RoutingConf
		valid bool
	}{
		{RoutingConf{Recipients: []string{"AppA", "AppB", "AppC"}, PrimaryProducer: "AppA", PrimaryConsumer: "AppB"}, true},
		{RoutingConf{Recipients: []string{"AppA", "AppB"}}, true},
		{RoutingConf{Recipients: []string{"solo"}}, true},
		{RoutingConf{}, false},
		{RoutingConf{Recipients: []string{"A", "A"}}, false},
		{RoutingConf{Recipients: []string{"A", ""}}, false},
		{RoutingConf{Recipients: []string{"A", "B"}, PrimaryProducer: "A"}, false},
		{RoutingConf{Recipients: []string{"A", "B"}, PrimaryProducer: "A", PrimaryConsumer: "C"}, false},
		{RoutingConf{Recipients: []string{"A", "B"}, PrimaryProducer: "A", PrimaryConsumer: "A"}, false},
		{RoutingConf{Recipients: []string{"A", "external"}}, false},
		{RoutingConf{Recipients: []string{"A", "B"}, ExternalSender: "B"}, false},
		{RoutingConf{Recipients: []string{"A"}, MaxQueueLength: -1}, false},
	}

	for i, test := range tests {
		if err := test.conf.CheckValid(); (err == nil) != test.valid {
			t.Fatalf("test %d: expected valid=%t, got %v", i, test.valid, err)
		}
	}
}

func TestRouterBroadcastExcludesSender(t *testing.T) {
	router, store, notifier := newTestRouter(t, testConf())

	delivery, err := router.Submit("X", createPackage(""))
	if err != nil {
		t.Fatal(err)
	} else if err := delivery.Err(); err != nil {
		t.Fatal(err)
	}

	if expected := []string{"Y", "Z"}; !reflect.DeepEqual(delivery.Targets, expected) {
		t.Fatalf("expected targets %v, got %v", expected, delivery.Targets)
	}
	checkLengths(t, store, map[string]int{"X": 0, "Y": 1, "Z": 1})

	if delivery.Package.ID == "" || delivery.Package.CreatedAt.IsZero() || delivery.Package.Sender != "X" {
		t.Fatalf("package was not annotated: %v", delivery.Package)
	}

	if pkgs, err := router.Retrieve("Y"); err != nil {
		t.Fatal(err)
	} else if len(pkgs) != 1 || pkgs[0].ID != delivery.Package.ID {
		t.Fatalf("expected package %s, got %v", delivery.Package.ID, pkgs)
	}
	checkLengths(t, store, map[string]int{"X": 0, "Y": 0, "Z": 1})

	if pkgs, err := router.Retrieve("Y"); err != nil {
		t.Fatal(err)
	} else if len(pkgs) != 0 {
		t.Fatalf("second Retrieve returned %v", pkgs)
	}

	types, data := notifier.events()
	if expected := []string{EventMessageEnqueued, EventQueueDrained, EventQueueDrained}; !reflect.DeepEqual(types, expected) {
		t.Fatalf("expected events %v, got %v", expected, types)
	}
	if ev := data[0].(EnqueuedEvent); !reflect.DeepEqual(ev.Targets, []string{"Y", "Z"}) {
		t.Fatalf("enqueued event lists targets %v", ev.Targets)
	}
	if ev := data[1].(DrainedEvent); ev.Recipient != "Y" || ev.Drained != 1 || ev.QueueLength != 0 {
		t.Fatalf("unexpected drained event %v", ev)
	}
}

func TestRouterTargetedDelivery(t *testing.T) {
	router, store, _ := newTestRouter(t, testConf())

	for _, sender := range []string{"X", "Z", DefaultExternalSender, ""} {
		if delivery, err := router.Submit(sender, createPackage("Z")); err != nil {
			t.Fatal(err)
		} else if !reflect.DeepEqual(delivery.Targets, []string{"Z"}) {
			t.Fatalf("sender %q: expected target Z, got %v", sender, delivery.Targets)
		}
	}

	checkLengths(t, store, map[string]int{"X": 0, "Y": 0, "Z": 4})
}

func TestRouterPrimaryProducer(t *testing.T) {
	conf := RoutingConf{
		Recipients:      []string{"AppA", "AppB", "AppC"},
		PrimaryProducer: "AppA",
		PrimaryConsumer: "AppB",
	}
	router, store, _ := newTestRouter(t, conf)

	if delivery, err := router.Submit("AppA", createPackage("")); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(delivery.Targets, []string{"AppB"}) {
		t.Fatalf("expected AppB only, got %v", delivery.Targets)
	}
	checkLengths(t, store, map[string]int{"AppA": 0, "AppB": 1, "AppC": 0})

	if delivery, err := router.Submit("AppC", createPackage("")); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(delivery.Targets, []string{"AppA", "AppB"}) {
		t.Fatalf("expected AppA and AppB, got %v", delivery.Targets)
	}

	// An explicit target overrules the primary route.
	if delivery, err := router.Submit("AppA", createPackage("AppC")); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(delivery.Targets, []string{"AppC"}) {
		t.Fatalf("expected AppC only, got %v", delivery.Targets)
	}

	checkLengths(t, store, map[string]int{"AppA": 1, "AppB": 2, "AppC": 1})
}

func TestRouterTwoRecipients(t *testing.T) {
	router, store, _ := newTestRouter(t, RoutingConf{
		Recipients:      []string{"AppA", "AppB"},
		PrimaryProducer: "AppA",
		PrimaryConsumer: "AppB",
	})

	if _, err := router.Submit("AppB", createPackage("")); err != nil {
		t.Fatal(err)
	}
	if _, err := router.Submit("AppA", createPackage("")); err != nil {
		t.Fatal(err)
	}
	checkLengths(t, store, map[string]int{"AppA": 1, "AppB": 1})
}

func TestRouterNoRoute(t *testing.T) {
	router, store, notifier := newTestRouter(t, RoutingConf{Recipients: []string{"solo"}})

	delivery, err := router.Submit("solo", createPackage(""))
	if err != nil {
		t.Fatal(err)
	} else if delivery.Targets == nil || len(delivery.Targets) != 0 {
		t.Fatalf("expected an empty target list, got %#v", delivery.Targets)
	}
	checkLengths(t, store, map[string]int{"solo": 0})

	if types, _ := notifier.events(); len(types) != 1 {
		t.Fatalf("expected one event, got %v", types)
	}
}

func TestRouterUnknownIdentity(t *testing.T) {
	router, store, notifier := newTestRouter(t, testConf())

	tests := []struct {
		sender string
		target string
		field  string
	}{
		{"X", "Q", "target"},
		{"X", "y", "target"},
		{"Q", "", "sender"},
		{"Q", "Y", "sender"},
	}

	for _, test := range tests {
		_, err := router.Submit(test.sender, createPackage(test.target))
		if !errors.Is(err, ErrUnknownRecipient) {
			t.Fatalf("%v: expected ErrUnknownRecipient, got %v", test, err)
		}

		var recErr *RecipientError
		if !errors.As(err, &recErr) || recErr.Field != test.field {
			t.Fatalf("%v: expected field %s, got %v", test, test.field, err)
		}
	}

	if _, err := router.Retrieve("Q"); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("Retrieve Q: expected ErrUnknownRecipient, got %v", err)
	}

	checkLengths(t, store, map[string]int{"X": 0, "Y": 0, "Z": 0})
	if types, _ := notifier.events(); len(types) != 0 {
		t.Fatalf("rejected submissions published events: %v", types)
	}
}

func TestRouterEmptySubmission(t *testing.T) {
	router, store, _ := newTestRouter(t, testConf())

	tests := []struct {
		payload string
		err     error
	}{
		{"", ErrEmptySubmission},
		{"   ", ErrEmptySubmission},
		{"{}", ErrEmptySubmission},
		{"{ }", ErrEmptySubmission},
		{"{", ErrMalformedSubmission},
		{"[1, 2]", ErrMalformedSubmission},
		{`"text"`, ErrMalformedSubmission},
	}

	for _, test := range tests {
		p := mailbox.Package{Payload: json.RawMessage(test.payload)}
		if _, err := router.Submit("X", p); !errors.Is(err, test.err) {
			t.Fatalf("payload %q: expected %v, got %v", test.payload, test.err, err)
		}
	}

	checkLengths(t, store, map[string]int{"X": 0, "Y": 0, "Z": 0})
}

func TestRouterPartialDelivery(t *testing.T) {
	conf := testConf()
	conf.MaxQueueLength = 1
	router, store, notifier := newTestRouter(t, conf)

	if _, err := router.Submit("X", createPackage("Z")); err != nil {
		t.Fatal(err)
	}

	delivery, err := router.Submit("X", createPackage(""))
	if err != nil {
		t.Fatalf("partial delivery must not be returned as error: %v", err)
	}

	if !reflect.DeepEqual(delivery.Targets, []string{"Y"}) {
		t.Fatalf("expected Y to succeed, got %v", delivery.Targets)
	}
	if !reflect.DeepEqual(delivery.FailedTargets(), []string{"Z"}) {
		t.Fatalf("expected Z to fail, got %v", delivery.FailedTargets())
	}

	pdErr := delivery.Err()
	if !errors.Is(pdErr, ErrPartialDelivery) {
		t.Fatalf("expected ErrPartialDelivery, got %v", pdErr)
	} else if !errors.Is(pdErr, mailbox.ErrMailboxFull) {
		t.Fatalf("expected the cause ErrMailboxFull within %v", pdErr)
	}

	checkLengths(t, store, map[string]int{"X": 0, "Y": 1, "Z": 1})

	_, data := notifier.events()
	if ev := data[len(data)-1].(EnqueuedEvent); !reflect.DeepEqual(ev.Failed, []string{"Z"}) {
		t.Fatalf("enqueued event lists failures %v", ev.Failed)
	}

	// Every target fails now.
	delivery, err = router.Submit("X", createPackage("Z"))
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	} else if len(delivery.Targets) != 0 || len(delivery.Failures) != 1 {
		t.Fatalf("unexpected delivery %v", delivery)
	}

	// The Router stays serviceable.
	if _, err := router.Retrieve("Z"); err != nil {
		t.Fatal(err)
	}
	if _, err := router.Submit("X", createPackage("Z")); err != nil {
		t.Fatal(err)
	}
}

func TestNewRouterMismatch(t *testing.T) {
	store, err := mailbox.NewStore([]string{"X", "Y"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewRouter(store, testConf(), nil); err == nil {
		t.Fatal("NewRouter accepted a Store without a mailbox for Z")
	}
	if _, err := NewRouter(store, RoutingConf{Recipients: []string{"X"}}, nil); err == nil {
		t.Fatal("NewRouter accepted a Store with more mailboxes than recipients")
	}
	if _, err := NewRouter(store, RoutingConf{Recipients: []string{"X", "Y"}}, nil); err != nil {
		t.Fatal(err)
	}
}
