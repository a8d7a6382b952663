// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"net"
	"testing"
	"time"

	"github.com/ctxrelay/ctxrelay-go/pkg/livestate"
	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
	"github.com/ctxrelay/ctxrelay-go/pkg/relay"
)

// randomPort returns a random open TCP port.
func randomPort(t *testing.T) (port int) {
	if addr, err := net.ResolveTCPAddr("tcp", "localhost:0"); err != nil {
		t.Fatal(err)
	} else if l, err := net.ListenTCP("tcp", addr); err != nil {
		t.Fatal(err)
	} else {
		port = l.Addr().(*net.TCPAddr).Port
		_ = l.Close()
	}
	return
}

// isAddrReachable checks if a TCP address - like localhost:2342 - is reachable.
func isAddrReachable(addr string) (open bool) {
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err != nil {
		open = false
	} else {
		open = true
		_ = conn.Close()
	}
	return
}

// appConf is the classic three agent setup, AppA feeding AppB.
func appConf() relay.RoutingConf {
	return relay.RoutingConf{
		Recipients:      []string{"AppA", "AppB", "AppC"},
		PrimaryProducer: "AppA",
		PrimaryConsumer: "AppB",
	}
}

// newTestRelay wires a Store, Publisher and Router for testing purpose.
func newTestRelay(t *testing.T, conf relay.RoutingConf) (*relay.Router, *livestate.Publisher, *mailbox.Store) {
	store, err := conf.NewStore()
	if err != nil {
		t.Fatal(err)
	}

	publisher := livestate.NewPublisher(store, livestate.Options{})
	t.Cleanup(publisher.Close)

	router, err := relay.NewRouter(store, conf, publisher)
	if err != nil {
		t.Fatal(err)
	}

	return router, publisher, store
}

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within a second")
}
