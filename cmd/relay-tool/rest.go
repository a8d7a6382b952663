// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"github.com/ctxrelay/ctxrelay-go/pkg/agent"
)

// readInput from stdin (-) or a file.
func readInput(input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(input)
}

// printJSON writes an indented JSON representation to stdout.
func printJSON(v interface{}) {
	if data, err := json.MarshalIndent(v, "", "  "); err != nil {
		printFatal(err, "Marshaling JSON errored")
	} else {
		fmt.Println(string(data))
	}
}

// sendPackage for the "send" CLI option.
func sendPackage(args []string) {
	if len(args) != 3 {
		printUsage()
	}

	payload, err := readInput(args[2])
	if err != nil {
		printFatal(err, "Reading input errored")
	}

	resp, err := agent.NewRestAgentConnector(args[0]).Submit(args[1], payload)
	if err != nil {
		printFatal(err, "Submitting package errored")
	}
	printJSON(resp)
}

// fetchPackages for the "fetch" CLI option.
func fetchPackages(args []string) {
	if len(args) != 2 {
		printUsage()
	}

	packages, err := agent.NewRestAgentConnector(args[0]).Retrieve(args[1])
	if err != nil {
		printFatal(err, "Retrieving packages errored")
	}
	printJSON(packages)
}

// showState for the "state" CLI option.
func showState(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	state, err := agent.NewRestAgentConnector(args[0]).State()
	if err != nil {
		printFatal(err, "Requesting state errored")
	}
	printJSON(state)
}
