// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package livestate

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// heartbeat executes its task every interval until stopped. The task runs within the loop's goroutine, so no
// task is running or will be started after stop returned.
type heartbeat struct {
	task     func()
	interval time.Duration

	stopSyn chan struct{}
	stopAck chan struct{}
}

// newHeartbeat creates and starts a heartbeat.
func newHeartbeat(task func(), interval time.Duration) *heartbeat {
	hb := &heartbeat{
		task:     task,
		interval: interval,

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	go hb.loop()

	return hb
}

func (hb *heartbeat) loop() {
	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.stopSyn:
			close(hb.stopAck)
			return

		case <-ticker.C:
			// A stop request wins over a simultaneously elapsed tick.
			select {
			case <-hb.stopSyn:
				close(hb.stopAck)
				return
			default:
			}

			hb.task()
			log.WithField("interval", hb.interval).Trace("Heartbeat executed")
		}
	}
}

// stop this heartbeat and wait for its loop to finish. This method is only allowed to be called once.
func (hb *heartbeat) stop() {
	close(hb.stopSyn)
	<-hb.stopAck
}
