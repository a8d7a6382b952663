// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "relayd.toml")
	if err := os.WriteFile(filename, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestParseConfigExample(t *testing.T) {
	conf, err := parseConfig("relayd.toml")
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(conf.Core.Recipients, []string{"AppA", "AppB", "AppC"}) {
		t.Fatalf("unexpected recipients %v", conf.Core.Recipients)
	}
	if conf.Core.PrimaryProducer != "AppA" || conf.Core.PrimaryConsumer != "AppB" {
		t.Fatalf("unexpected primary pair %s -> %s", conf.Core.PrimaryProducer, conf.Core.PrimaryConsumer)
	}
	if conf.Rest.Listen != ":9002" || !*conf.Rest.LegacyEndpoint {
		t.Fatalf("unexpected rest block %v", conf.Rest)
	}
	if conf.WebSocket.QueueSize != 64 || conf.WebSocket.WriteTimeout.Duration != 2*time.Second {
		t.Fatalf("unexpected websocket block %v", conf.WebSocket)
	}
	if conf.Heartbeat.Interval.Duration != 5*time.Second {
		t.Fatalf("unexpected heartbeat interval %v", conf.Heartbeat.Interval)
	}
	if !conf.Metrics.Enabled || conf.Nats.Url != "" || conf.Profiling {
		t.Fatalf("unexpected config %v", conf)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	conf, err := parseConfig(writeConfig(t, "[core]\nrecipients = [\"AppA\", \"AppB\"]\n"))
	if err != nil {
		t.Fatal(err)
	}

	if conf.Rest.Listen != defaultListen {
		t.Fatalf("listen is %q", conf.Rest.Listen)
	}
	if !reflect.DeepEqual(conf.Rest.CorsOrigins, []string{"*"}) {
		t.Fatalf("cors origins are %v", conf.Rest.CorsOrigins)
	}
	if conf.Rest.LegacyEndpoint == nil || !*conf.Rest.LegacyEndpoint {
		t.Fatal("legacy endpoint is not enabled by default")
	}
	if conf.WebSocket.Path != defaultWebSocketPath || conf.Metrics.Path != defaultMetricsPath {
		t.Fatalf("unexpected paths %q, %q", conf.WebSocket.Path, conf.Metrics.Path)
	}
	if conf.Heartbeat.Interval.Duration != defaultHeartbeatInterval {
		t.Fatalf("heartbeat interval is %v", conf.Heartbeat.Interval)
	}
	if port, err := conf.listenPort(); err != nil || port != 9002 {
		t.Fatalf("listen port is %d, %v", port, err)
	}
}

func TestParseConfigLegacyDisabled(t *testing.T) {
	conf, err := parseConfig(writeConfig(t, `
[core]
recipients = ["AppA", "AppB"]

[rest]
legacy-endpoint = false
`))
	if err != nil {
		t.Fatal(err)
	}

	if *conf.Rest.LegacyEndpoint {
		t.Fatal("legacy endpoint is enabled")
	}
}

func TestParseConfigInvalid(t *testing.T) {
	_, err := parseConfig(writeConfig(t, `
[core]
recipients = ["AppA", "AppA"]
primary-producer = "AppX"

[logging]
format = "xml"

[rest]
listen = "nope"

[websocket]
queue-size = -1
`))
	if err == nil {
		t.Fatal("invalid config was accepted")
	}

	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("expected a multierror, got %T", err)
	}
	if n := len(merr.Errors); n != 6 {
		t.Fatalf("expected six aggregated errors, got %d: %v", n, err)
	}
}

func TestParseConfigDuration(t *testing.T) {
	if _, err := parseConfig(writeConfig(t, "[core]\nrecipients = [\"AppA\"]\n[heartbeat]\ninterval = \"soon\"\n")); err == nil {
		t.Fatal("invalid duration was accepted")
	}
}

func TestConfigFile(t *testing.T) {
	t.Setenv("RELAYD_CONFIG", "env.toml")

	tests := []struct {
		flagValue string
		args      []string
		expected  string
	}{
		{"flag.toml", []string{"arg.toml"}, "flag.toml"},
		{"", []string{"arg.toml"}, "arg.toml"},
		{"", nil, "env.toml"},
	}

	for _, test := range tests {
		if filename := configFile(test.flagValue, test.args); filename != test.expected {
			t.Fatalf("expected %s, got %s", test.expected, filename)
		}
	}
}
