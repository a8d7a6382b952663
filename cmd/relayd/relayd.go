// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"

	"github.com/ctxrelay/ctxrelay-go/pkg/agent"
	"github.com/ctxrelay/ctxrelay-go/pkg/discovery"
	"github.com/ctxrelay/ctxrelay-go/pkg/livestate"
	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
	"github.com/ctxrelay/ctxrelay-go/pkg/metrics"
	"github.com/ctxrelay/ctxrelay-go/pkg/relay"
)

// relayd bundles all components of a running relay.
type relayd struct {
	conf tomlConfig

	store     *mailbox.Store
	publisher *livestate.Publisher
	router    *relay.Router

	listener   net.Listener
	httpServer *http.Server

	natsConn  *nats.Conn
	natsAgent *agent.NatsAgent

	discovery *discovery.Manager
}

// newRelayd wires the Store, the Publisher and the Router together. Nothing is started yet.
func newRelayd(conf tomlConfig) (d *relayd, err error) {
	d = &relayd{conf: conf}

	if d.store, err = conf.Core.NewStore(); err != nil {
		return nil, err
	}

	d.publisher = livestate.NewPublisher(d.store, livestate.Options{QueueSize: conf.WebSocket.QueueSize})

	if d.router, err = relay.NewRouter(d.store, conf.Core, d.publisher); err != nil {
		d.publisher.Close()
		return nil, err
	}

	d.httpServer = &http.Server{
		Handler:           d.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return d, nil
}

// handler creates the HTTP handler for the REST, WebSocket and metrics endpoints behind the CORS middleware.
func (d *relayd) handler() http.Handler {
	r := mux.NewRouter()

	_ = agent.NewRestAgent(r, d.router, agent.RestOptions{
		Legacy:      *d.conf.Rest.LegacyEndpoint,
		MaxBodySize: d.conf.Rest.MaxBodySize,
	})

	ws := agent.NewWebSocketAgent(d.publisher, d.router, agent.WebSocketOptions{
		WriteTimeout: d.conf.WebSocket.WriteTimeout.Duration,
	})
	r.Handle(d.conf.WebSocket.Path, ws)
	r.Handle(d.conf.WebSocket.Path+"/{observer}", ws)

	if d.conf.Metrics.Enabled {
		r.Handle(d.conf.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   d.conf.Rest.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	})(r)
}

// start listening, the heartbeat and the optional NATS and discovery components.
func (d *relayd) start() (err error) {
	if d.listener, err = net.Listen("tcp", d.conf.Rest.Listen); err != nil {
		return
	}

	go func() {
		if serveErr := d.httpServer.Serve(d.listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.WithError(serveErr).Error("HTTP server failed")
		}
	}()

	log.WithFields(log.Fields{
		"listen":     d.listener.Addr(),
		"recipients": d.router.Recipients(),
	}).Info("Context relay is listening")

	if err = d.publisher.StartHeartbeat(d.conf.Heartbeat.Interval.Duration); err != nil {
		return
	}

	if d.conf.Nats.Url != "" {
		if err = d.startNats(); err != nil {
			return
		}
	}

	if d.conf.Discovery.IPv4 || d.conf.Discovery.IPv6 {
		if err = d.startDiscovery(); err != nil {
			return
		}
	}

	return nil
}

func (d *relayd) startNats() (err error) {
	if d.natsConn, err = nats.Connect(d.conf.Nats.Url, nats.Name("relayd")); err != nil {
		return fmt.Errorf("connecting to NATS at %s failed: %w", d.conf.Nats.Url, err)
	}

	prefix := d.conf.Nats.SubjectPrefix
	if prefix == "" {
		prefix = agent.DefaultSubjectPrefix
	}

	d.natsAgent, err = agent.NewNatsAgent(d.natsConn, d.publisher, d.router, prefix)
	return
}

func (d *relayd) startDiscovery() (err error) {
	port := uint(d.listener.Addr().(*net.TCPAddr).Port)

	name := d.conf.Discovery.Name
	if name == "" {
		if name, err = os.Hostname(); err != nil {
			return
		}
	}

	d.discovery, err = discovery.NewManager(
		discovery.Announcement{Name: name, RestPort: port, WebSocketPath: d.conf.WebSocket.Path},
		func(announcement discovery.Announcement) {
			log.WithFields(log.Fields{
				"name": announcement.Name,
				"rest": announcement.RestUrl(),
				"ws":   announcement.WebSocketUrl(),
			}).Info("Discovered another context relay")
		},
		d.conf.Discovery.Interval.Duration, d.conf.Discovery.IPv4, d.conf.Discovery.IPv6)
	return
}

// close all started components in reverse order.
func (d *relayd) close() (errs error) {
	if d.discovery != nil {
		d.discovery.Close()
	}

	if d.natsAgent != nil {
		if err := d.natsAgent.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}

	d.publisher.StopHeartbeat()
	d.publisher.Close()

	if d.listener != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := d.httpServer.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return
}
