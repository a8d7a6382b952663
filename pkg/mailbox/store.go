// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mailbox

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownRecipient is returned for every operation on a name outside the Store's recipient set.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrMailboxFull is returned by Enqueue if a queue length limit is configured and reached.
	ErrMailboxFull = errors.New("mailbox is full")
)

// mailbox is one recipient's queue.
type mailbox struct {
	sync.Mutex

	queue []Package
}

// Snapshot is a point-in-time view of a Store. It is built mailbox by mailbox, each under its own lock.
type Snapshot struct {
	Queues   map[string]int `json:"queues"`
	Messages []Package      `json:"messages"`
	Total    int            `json:"total_messages"`
}

// Store maps each configured recipient to its mailbox.
//
// The mailboxes map is populated once in NewStore and never changed afterwards. Therefore, it can be read
// without a Store-wide lock.
type Store struct {
	recipients []string
	mailboxes  map[string]*mailbox

	maxQueueLength int
}

// NewStore creates a Store with one empty mailbox for each recipient. Names are case-sensitive and must be
// unique. A maxQueueLength of zero or less disables the queue length limit.
func NewStore(recipients []string, maxQueueLength int) (*Store, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("a Store requires at least one recipient")
	}

	s := &Store{
		recipients:     make([]string, 0, len(recipients)),
		mailboxes:      make(map[string]*mailbox, len(recipients)),
		maxQueueLength: maxQueueLength,
	}

	for _, name := range recipients {
		if name == "" {
			return nil, fmt.Errorf("recipient names must not be empty")
		} else if _, exists := s.mailboxes[name]; exists {
			return nil, fmt.Errorf("recipient %q is listed twice", name)
		}

		s.recipients = append(s.recipients, name)
		s.mailboxes[name] = &mailbox{}
	}

	return s, nil
}

func (s *Store) lookup(recipient string) (*mailbox, error) {
	if mb, ok := s.mailboxes[recipient]; ok {
		return mb, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRecipient, recipient)
}

// Recipients in their configuration order. The returned slice is a copy.
func (s *Store) Recipients() []string {
	recipients := make([]string, len(s.recipients))
	copy(recipients, s.recipients)
	return recipients
}

// Has checks if a recipient owns a mailbox in this Store.
func (s *Store) Has(recipient string) bool {
	_, ok := s.mailboxes[recipient]
	return ok
}

// Enqueue appends a Package to the tail of the recipient's queue.
func (s *Store) Enqueue(recipient string, p Package) error {
	mb, err := s.lookup(recipient)
	if err != nil {
		return err
	}

	mb.Lock()
	defer mb.Unlock()

	if s.maxQueueLength > 0 && len(mb.queue) >= s.maxQueueLength {
		return fmt.Errorf("%w: %q holds %d packages", ErrMailboxFull, recipient, len(mb.queue))
	}

	mb.queue = append(mb.queue, p)
	return nil
}

// Drain atomically removes and returns all queued Packages of a recipient in FIFO order. An empty queue
// results in an empty, non-nil slice.
func (s *Store) Drain(recipient string) ([]Package, error) {
	mb, err := s.lookup(recipient)
	if err != nil {
		return nil, err
	}

	mb.Lock()
	defer mb.Unlock()

	pkgs := mb.queue
	mb.queue = nil

	if pkgs == nil {
		pkgs = []Package{}
	}
	return pkgs, nil
}

// Length of a recipient's queue.
func (s *Store) Length(recipient string) (int, error) {
	mb, err := s.lookup(recipient)
	if err != nil {
		return 0, err
	}

	mb.Lock()
	defer mb.Unlock()

	return len(mb.queue), nil
}

// Lengths of all queues, keyed by recipient.
func (s *Store) Lengths() map[string]int {
	lengths := make(map[string]int, len(s.recipients))
	for _, name := range s.recipients {
		mb := s.mailboxes[name]

		mb.Lock()
		lengths[name] = len(mb.queue)
		mb.Unlock()
	}
	return lengths
}

// Snapshot of all queue lengths and all currently queued Packages, flattened in recipient order.
func (s *Store) Snapshot() Snapshot {
	snapshot := Snapshot{
		Queues:   make(map[string]int, len(s.recipients)),
		Messages: []Package{},
	}

	for _, name := range s.recipients {
		mb := s.mailboxes[name]

		mb.Lock()
		snapshot.Queues[name] = len(mb.queue)
		snapshot.Messages = append(snapshot.Messages, mb.queue...)
		mb.Unlock()

		snapshot.Total += snapshot.Queues[name]
	}

	return snapshot
}
