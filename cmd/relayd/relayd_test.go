// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ctxrelay/ctxrelay-go/pkg/agent"
	"github.com/ctxrelay/ctxrelay-go/pkg/livestate"
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

func testConfig(t *testing.T) tomlConfig {
	conf := tomlConfig{
		Core: relay.RoutingConf{
			Recipients:      []string{"AppA", "AppB", "AppC"},
			PrimaryProducer: "AppA",
			PrimaryConsumer: "AppB",
		},
		Rest:    restConf{Listen: fmt.Sprintf("127.0.0.1:%d", randomPort(t))},
		Metrics: metricsConf{Enabled: true},
	}
	conf.applyDefaults()

	if err := conf.checkValid(); err != nil {
		t.Fatal(err)
	}
	return conf
}

func startRelayd(t *testing.T, conf tomlConfig) *relayd {
	d, err := newRelayd(conf)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.close() })
	return d
}

func TestRelaydRest(t *testing.T) {
	conf := testConfig(t)
	_ = startRelayd(t, conf)

	client := agent.NewRestAgentConnector("http://" + conf.Rest.Listen)

	if resp, err := client.Submit("AppA", []byte(`{"current_task":"plan"}`)); err != nil {
		t.Fatal(err)
	} else if len(resp.Targets) != 1 || resp.Targets[0] != "AppB" {
		t.Fatalf("unexpected targets %v", resp.Targets)
	}

	if packages, err := client.Retrieve("AppB"); err != nil {
		t.Fatal(err)
	} else if len(packages) != 1 || packages[0].Sender != "AppA" {
		t.Fatalf("unexpected packages %v", packages)
	}

	if state, err := client.State(); err != nil {
		t.Fatal(err)
	} else if state.Total != 0 {
		t.Fatalf("state holds %d packages after draining", state.Total)
	}
}

func TestRelaydCorsAndMetrics(t *testing.T) {
	conf := testConfig(t)
	_ = startRelayd(t, conf)

	req, err := http.NewRequest(http.MethodGet, "http://"+conf.Rest.Listen+"/recipients", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "http://dashboard.example")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("CORS header is %q", origin)
	}

	resp, err = http.Get("http://" + conf.Rest.Listen + conf.Metrics.Path)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ctxrelay_") {
		t.Fatalf("metrics endpoint returned %d", resp.StatusCode)
	}
}

func TestRelaydWebSocket(t *testing.T) {
	conf := testConfig(t)
	d := startRelayd(t, conf)

	wac, err := agent.NewWebSocketAgentConnector("ws://" + conf.Rest.Listen + conf.WebSocket.Path + "/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	defer wac.Close()

	select {
	case ef := <-wac.Events():
		if ef.Type != livestate.EventSystemState {
			t.Fatalf("expected initial state, got %v", ef)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial state")
	}

	if err := wac.SendPackage("AppC", []byte(`{"note":"from the dashboard"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case ef := <-wac.Events():
		if ef.Type != relay.EventMessageEnqueued {
			t.Fatalf("expected enqueued event, got %v", ef)
		}
	case <-time.After(time.Second):
		t.Fatal("no enqueued event")
	}

	if n, _ := d.store.Length("AppC"); n != 1 {
		t.Fatalf("AppC holds %d packages", n)
	}
}
