// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/ctxrelay/ctxrelay-go/pkg/relay"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      relay.RoutingConf
	Logging   logConf
	Rest      restConf
	WebSocket webSocketConf `toml:"websocket"`
	Heartbeat heartbeatConf
	Metrics   metricsConf
	Nats      natsConf
	Discovery discoveryConf
	Profiling bool
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// restConf describes the REST-configuration block.
type restConf struct {
	Listen         string
	CorsOrigins    []string `toml:"cors-origins"`
	LegacyEndpoint *bool    `toml:"legacy-endpoint"`
	MaxBodySize    int64    `toml:"max-body-size"`
}

// webSocketConf describes the WebSocket-configuration block.
type webSocketConf struct {
	Path         string
	QueueSize    int      `toml:"queue-size"`
	WriteTimeout duration `toml:"write-timeout"`
}

// heartbeatConf describes the Heartbeat-configuration block.
type heartbeatConf struct {
	Interval duration
}

// metricsConf describes the Metrics-configuration block.
type metricsConf struct {
	Enabled bool
	Path    string
}

// natsConf describes the NATS-configuration block. An empty Url disables NATS.
type natsConf struct {
	Url           string
	SubjectPrefix string `toml:"subject-prefix"`
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	Name     string
	IPv4     bool
	IPv6     bool
	Interval duration
}

// duration is a time.Duration, written as a string like "5s" in TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

const (
	defaultListen            = ":9002"
	defaultWebSocketPath     = "/ws"
	defaultMetricsPath       = "/metrics"
	defaultHeartbeatInterval = 5 * time.Second
	defaultDiscoveryInterval = 10 * time.Second
)

// applyDefaults for all unset optional values.
func (conf *tomlConfig) applyDefaults() {
	if conf.Rest.Listen == "" {
		conf.Rest.Listen = defaultListen
	}
	if len(conf.Rest.CorsOrigins) == 0 {
		conf.Rest.CorsOrigins = []string{"*"}
	}
	if conf.Rest.LegacyEndpoint == nil {
		legacy := true
		conf.Rest.LegacyEndpoint = &legacy
	}

	if conf.WebSocket.Path == "" {
		conf.WebSocket.Path = defaultWebSocketPath
	}

	if conf.Heartbeat.Interval.Duration == 0 {
		conf.Heartbeat.Interval.Duration = defaultHeartbeatInterval
	}

	if conf.Metrics.Path == "" {
		conf.Metrics.Path = defaultMetricsPath
	}

	if conf.Discovery.Interval.Duration == 0 {
		conf.Discovery.Interval.Duration = defaultDiscoveryInterval
	}
}

// listenPort extracts the TCP port of the REST listen address.
func (conf tomlConfig) listenPort() (uint, error) {
	_, portStr, err := net.SplitHostPort(conf.Rest.Listen)
	if err != nil {
		return 0, err
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	return uint(port), err
}

// checkValid reports every invalid value at once.
func (conf tomlConfig) checkValid() (errs error) {
	if err := conf.Core.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if _, err := conf.listenPort(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("rest.listen %q: %w", conf.Rest.Listen, err))
	}
	if conf.Rest.MaxBodySize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("rest.max-body-size must not be negative"))
	}

	if conf.WebSocket.QueueSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("websocket.queue-size must not be negative"))
	}
	if conf.WebSocket.WriteTimeout.Duration < 0 {
		errs = multierror.Append(errs, fmt.Errorf("websocket.write-timeout must not be negative"))
	}

	if conf.Heartbeat.Interval.Duration < 0 {
		errs = multierror.Append(errs, fmt.Errorf("heartbeat.interval must be positive"))
	}
	if conf.Discovery.Interval.Duration < 0 {
		errs = multierror.Append(errs, fmt.Errorf("discovery.interval must be positive"))
	}

	switch conf.Logging.Format {
	case "", "text", "json":
	default:
		errs = multierror.Append(errs, fmt.Errorf("logging.format %q is neither text nor json", conf.Logging.Format))
	}

	return
}

// parseConfig reads, completes and validates the TOML configuration.
func parseConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	conf.applyDefaults()
	err = conf.checkValid()
	return
}

// setupLogging configures logrus. A non-empty levelOverride replaces the configured level.
func setupLogging(conf logConf, levelOverride string) {
	level := conf.Level
	if levelOverride != "" {
		level = levelOverride
	}

	if level != "" {
		if lvl, err := log.ParseLevel(level); err != nil {
			log.WithFields(log.Fields{
				"level":    level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}
}
