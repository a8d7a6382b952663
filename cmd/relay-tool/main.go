// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// printUsage of relay-tool and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s send|fetch|state|watch|exchange|discover:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s send rest-url sender -|filename\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Submits the JSON object from stdin (-) or the given file as a context package\n")
	_, _ = fmt.Fprintf(os.Stderr, "  from sender. An optional \"target\" field addresses a single recipient.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s fetch rest-url recipient\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Retrieves and removes all pending packages of the recipient.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s state rest-url\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints all queues without draining them.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s watch websocket-url\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints each live-state event until interrupted, e.g., ws://localhost:9002/ws.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s exchange rest-url websocket-url recipient directory\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Writes the recipient's incoming packages into the directory. JSON files dropped\n")
	_, _ = fmt.Fprintf(os.Stderr, "  into the directory are submitted with the recipient as sender.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s discover [seconds]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Lists context relays announcing themselves in the local network.\n\n")

	os.Exit(1)
}

// printFatal of an error with a short context description and exits afterwards.
func printFatal(err error, msg string) {
	_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	if os.Getenv("RELAY_TOOL_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	switch os.Args[1] {
	case "send":
		sendPackage(os.Args[2:])

	case "fetch":
		fetchPackages(os.Args[2:])

	case "state":
		showState(os.Args[2:])

	case "watch":
		watchEvents(os.Args[2:])

	case "exchange":
		startExchange(os.Args[2:])

	case "discover":
		discoverRelays(os.Args[2:])

	default:
		printUsage()
	}
}
