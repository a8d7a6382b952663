// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"

	"github.com/ctxrelay/ctxrelay-go/pkg/agent"
	"github.com/ctxrelay/ctxrelay-go/pkg/livestate"
	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
	"github.com/ctxrelay/ctxrelay-go/pkg/relay"
)

// exchange context packages between an user and a relayd over the filesystem.
type exchange struct {
	directory     string
	recipient     string
	knownFiles    sync.Map
	restConn      *agent.RestAgentConnector
	websocketConn *agent.WebSocketAgentConnector
	watcher       *fsnotify.Watcher

	closeChan chan os.Signal
}

// startExchange to exchange packages between client and a relayd.
func startExchange(args []string) {
	if len(args) != 4 {
		printUsage()
	}

	var (
		restAddr      = args[0]
		websocketAddr = args[1]
		recipient     = args[2]
		directory     = args[3]

		err error
	)

	ex := &exchange{
		directory: directory,
		recipient: recipient,
		restConn:  agent.NewRestAgentConnector(restAddr),
		closeChan: make(chan os.Signal, 1),
	}

	signal.Notify(ex.closeChan, os.Interrupt)

	if ex.websocketConn, err = agent.NewWebSocketAgentConnector(websocketAddr); err != nil {
		printFatal(err, "Starting WebSocketAgentConnector errored")
	}

	if ex.watcher, err = fsnotify.NewWatcher(); err != nil {
		printFatal(err, "Starting file watcher errored")
	}
	if err = ex.watcher.Add(directory); err != nil {
		printFatal(err, "Adding directory to file watcher errored")
	}

	ex.handler()
}

// cleanFilepath creates a relative path from the initial path to a new file's path.
func (ex *exchange) cleanFilepath(f string) string {
	if rel, err := filepath.Rel(ex.directory, f); err != nil {
		log.WithField("path", f).WithError(err).Fatal("Failed to clean file path")
		return ""
	} else {
		return rel
	}
}

func (ex *exchange) handler() {
	defer func() {
		_ = ex.watcher.Close()
		ex.websocketConn.Close()
	}()

	for {
		select {
		case <-ex.closeChan:
			log.Info("Received interrupt signal")
			return

		case e, ok := <-ex.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if _, ok := ex.knownFiles.Load(ex.cleanFilepath(e.Name)); ok {
				log.WithField("file", e.Name).Debug("Skipping file; already known")
				continue
			}

			if e.Op&fsnotify.Create == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			ex.readNewFile(e.Name)

		case err, ok := <-ex.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
			return

		case ef, ok := <-ex.websocketConn.Events():
			if !ok {
				log.Error("WebSocket connection was closed")
				return
			}

			if !ex.pending(ef) {
				continue
			}
			if err := ex.fetch(); err != nil {
				log.WithError(err).Error("Fetching packages errored")
			}
		}
	}
}

// pending checks if an event announces packages for this exchange's recipient.
func (ex *exchange) pending(ef agent.EventFrame) bool {
	switch ef.Type {
	case livestate.EventSystemState:
		var state livestate.SystemState
		if err := json.Unmarshal(ef.Data, &state); err != nil {
			log.WithError(err).Warn("Unmarshalling system state errored")
			return false
		}
		return state.Queues[ex.recipient] > 0

	case relay.EventMessageEnqueued:
		var enqueued relay.EnqueuedEvent
		if err := json.Unmarshal(ef.Data, &enqueued); err != nil {
			log.WithError(err).Warn("Unmarshalling enqueued event errored")
			return false
		}
		for _, target := range enqueued.Targets {
			if target == ex.recipient {
				return true
			}
		}
		return false

	default:
		return false
	}
}

// fetch all pending packages and save them into the directory.
func (ex *exchange) fetch() error {
	packages, err := ex.restConn.Retrieve(ex.recipient)
	if err != nil {
		return err
	}

	for _, p := range packages {
		filePath, err := ex.savePackage(p)
		logger := log.WithFields(log.Fields{
			"package": p.ID,
			"file":    filePath,
		})

		if err != nil {
			logger.WithError(err).Error("Saving package errored")
			return err
		}
		logger.Info("Saved received package")
	}
	return nil
}

// savePackage as an indented JSON file, named after the package's ID.
func (ex *exchange) savePackage(p mailbox.Package) (filePath string, err error) {
	filePath = filepath.Join(ex.directory, fmt.Sprintf("%s.json", p.ID))
	ex.knownFiles.Store(ex.cleanFilepath(filePath), struct{}{})

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return
	}

	err = os.WriteFile(filePath, data, 0o644)
	return
}

// readNewFile and submit its content. A file might still be written, resulting in multiple attempts.
func (ex *exchange) readNewFile(name string) {
	for i := 0; i < 5; i++ {
		if data, err := os.ReadFile(name); err != nil {
			log.WithError(err).WithField("file", name).Warn("Reading file errored, retrying..")
		} else if !json.Valid(data) {
			log.WithField("file", name).Warn("File contains no valid JSON yet, retrying..")
		} else if resp, err := ex.restConn.Submit(ex.recipient, data); err != nil {
			log.WithError(err).WithField("file", name).Error("Submitting package errored")
			return
		} else {
			log.WithFields(log.Fields{
				"file":    name,
				"package": resp.ID,
				"targets": resp.Targets,
			}).Info("Submitted package")
			return
		}

		time.Sleep(time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond)
	}

	log.WithField("file", name).Error("Failed to process file, giving up.")
}
