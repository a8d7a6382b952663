// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mailbox

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

// createPackage for testing purpose.
func createPackage(id string) Package {
	return Package{
		ID:        id,
		Sender:    "X",
		Payload:   json.RawMessage(fmt.Sprintf(`{"current_task":%q}`, id)),
		CreatedAt: time.Unix(1600000000, 0),
	}
}

func newTestStore(t *testing.T, maxQueueLength int) *Store {
	s, err := NewStore([]string{"X", "Y", "Z"}, maxQueueLength)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewStoreInvalid(t *testing.T) {
	tests := [][]string{
		nil,
		{},
		{"X", ""},
		{"X", "Y", "X"},
	}

	for _, recipients := range tests {
		if _, err := NewStore(recipients, 0); err == nil {
			t.Fatalf("NewStore accepted %v", recipients)
		}
	}
}

func TestStoreFifo(t *testing.T) {
	s := newTestStore(t, 0)

	var pkgs []Package
	for i := 0; i < 32; i++ {
		p := createPackage(fmt.Sprintf("pkg-%d", i))
		pkgs = append(pkgs, p)

		if err := s.Enqueue("Y", p); err != nil {
			t.Fatal(err)
		}
	}

	if n, err := s.Length("Y"); err != nil {
		t.Fatal(err)
	} else if n != len(pkgs) {
		t.Fatalf("expected length %d, got %d", len(pkgs), n)
	}

	if drained, err := s.Drain("Y"); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(drained, pkgs) {
		t.Fatalf("drained packages differ from enqueue order: %v", drained)
	}
}

func TestStoreDrainExactlyOnce(t *testing.T) {
	s := newTestStore(t, 0)

	if err := s.Enqueue("Z", createPackage("a")); err != nil {
		t.Fatal(err)
	}

	if first, err := s.Drain("Z"); err != nil {
		t.Fatal(err)
	} else if len(first) != 1 {
		t.Fatalf("expected one package, got %v", first)
	}

	if second, err := s.Drain("Z"); err != nil {
		t.Fatal(err)
	} else if second == nil || len(second) != 0 {
		t.Fatalf("expected an empty, non-nil result, got %#v", second)
	}

	if n, _ := s.Length("Z"); n != 0 {
		t.Fatalf("expected length 0, got %d", n)
	}
}

func TestStoreUnknownRecipient(t *testing.T) {
	s := newTestStore(t, 0)

	if err := s.Enqueue("x", createPackage("a")); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("Enqueue to lowercase x: expected ErrUnknownRecipient, got %v", err)
	}
	if _, err := s.Drain("Q"); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("Drain Q: expected ErrUnknownRecipient, got %v", err)
	}
	if _, err := s.Length("Q"); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("Length Q: expected ErrUnknownRecipient, got %v", err)
	}

	if s.Has("Q") {
		t.Fatal("Store created a mailbox for Q")
	}
	if lengths := s.Lengths(); len(lengths) != 3 {
		t.Fatalf("expected three mailboxes, got %v", lengths)
	}
}

func TestStoreMaxQueueLength(t *testing.T) {
	s := newTestStore(t, 2)

	for i := 0; i < 2; i++ {
		if err := s.Enqueue("X", createPackage(fmt.Sprintf("%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Enqueue("X", createPackage("overflow")); !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("expected ErrMailboxFull, got %v", err)
	}
	if err := s.Enqueue("Y", createPackage("other")); err != nil {
		t.Fatalf("limit of X affected Y: %v", err)
	}

	if _, err := s.Drain("X"); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue("X", createPackage("again")); err != nil {
		t.Fatalf("enqueue after drain failed: %v", err)
	}
}

func TestStoreSnapshot(t *testing.T) {
	s := newTestStore(t, 0)

	a, b, c := createPackage("a"), createPackage("b"), createPackage("c")
	_ = s.Enqueue("Z", c)
	_ = s.Enqueue("X", a)
	_ = s.Enqueue("X", b)

	snapshot := s.Snapshot()

	if expected := map[string]int{"X": 2, "Y": 0, "Z": 1}; !reflect.DeepEqual(snapshot.Queues, expected) {
		t.Fatalf("expected queues %v, got %v", expected, snapshot.Queues)
	}
	if snapshot.Total != 3 {
		t.Fatalf("expected total of 3, got %d", snapshot.Total)
	}
	if expected := []Package{a, b, c}; !reflect.DeepEqual(snapshot.Messages, expected) {
		t.Fatalf("expected messages %v, got %v", expected, snapshot.Messages)
	}

	// A Snapshot must not be a view into the queues.
	if _, err := s.Drain("X"); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Messages) != 3 || snapshot.Queues["X"] != 2 {
		t.Fatal("Snapshot changed after Drain")
	}
}

func TestStoreConcurrent(t *testing.T) {
	const producers, perProducer = 8, 250

	s := newTestStore(t, 0)

	var wg sync.WaitGroup
	drained := make(chan int, producers*perProducer)

	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := s.Enqueue("Y", createPackage(fmt.Sprintf("%d-%d", i, j))); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}

	stop := make(chan struct{})
	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		for {
			select {
			case <-stop:
				return
			default:
				if pkgs, err := s.Drain("Y"); err == nil && len(pkgs) > 0 {
					drained <- len(pkgs)
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-drainerDone

	rest, _ := s.Drain("Y")
	total := len(rest)
	close(drained)
	for n := range drained {
		total += n
	}

	if total != producers*perProducer {
		t.Fatalf("expected %d packages in total, got %d", producers*perProducer, total)
	}
}

func TestPackageContext(t *testing.T) {
	p := Package{
		ID: "ctx",
		Payload: json.RawMessage(`{
			"system": "You are a CRM assistant.",
			"memory": ["Customer is a frequent buyer."],
			"conversation": [{"role": "user", "content": "refund please"}],
			"current_task": "Draft a polite reply.",
			"urgency": "high"
		}`),
	}

	expected := ContextPayload{
		System:       "You are a CRM assistant.",
		Memory:       []string{"Customer is a frequent buyer."},
		Conversation: []Turn{{Role: "user", Content: "refund please"}},
		CurrentTask:  "Draft a polite reply.",
	}

	if cp, err := p.Context(); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(cp, expected) {
		t.Fatalf("expected %v, got %v", expected, cp)
	}

	if _, err := (Package{ID: "empty"}).Context(); err == nil {
		t.Fatal("decoding an empty payload did not fail")
	}
}
