// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ctxrelay/ctxrelay-go/pkg/discovery"
)

// discoverRelays for the "discover" CLI option.
func discoverRelays(args []string) {
	if len(args) > 1 {
		printUsage()
	}

	timeout := 5 * time.Second
	if len(args) == 1 {
		if seconds, err := strconv.ParseUint(args[0], 10, 16); err != nil || seconds == 0 {
			printUsage()
		} else {
			timeout = time.Duration(seconds) * time.Second
		}
	}

	announcements, err := discovery.Discover(timeout, true, true)
	if err != nil && len(announcements) == 0 {
		printFatal(err, "Discovery errored")
	}

	for _, announcement := range announcements {
		fmt.Printf("%s\t%s\t%s\n", announcement.Name, announcement.RestUrl(), announcement.WebSocketUrl())
	}
}
