// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/ctxrelay/ctxrelay-go/pkg/agent"
)

// watcher prints a relay's live-state events.
type watcher struct {
	websocketConn *agent.WebSocketAgentConnector

	closeChan chan os.Signal
}

// handle a watcher's task until an interrupt or a closed connection.
func (w *watcher) handle() {
	defer w.websocketConn.Close()

	for {
		select {
		case <-w.closeChan:
			return

		case ef, ok := <-w.websocketConn.Events():
			if !ok {
				log.Error("WebSocket connection was closed")
				return
			}

			fmt.Printf("%s #%d %s %s\n",
				ef.Timestamp.Format("15:04:05.000"), ef.Seq, ef.Type, string(ef.Data))
		}
	}
}

// watchEvents for the "watch" CLI option.
func watchEvents(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	w := watcher{
		closeChan: make(chan os.Signal, 1),
	}

	var err error
	if w.websocketConn, err = agent.NewWebSocketAgentConnector(args[0]); err != nil {
		printFatal(err, "Starting WebSocketAgentConnector errored")
	}

	signal.Notify(w.closeChan, os.Interrupt)

	w.handle()
}
