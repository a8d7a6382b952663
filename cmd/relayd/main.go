// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/joho/godotenv"
	"github.com/pkg/profile"
	"github.com/spf13/pflag"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func printUsage(flagSet *pflag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [flags] [configuration.toml]\n\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "The configuration file may also be set by the RELAYD_CONFIG environment variable.\n\n")
	flagSet.PrintDefaults()
}

// configFile picks the configuration from the flag, the positional argument or the environment, in this order.
func configFile(flagValue string, args []string) string {
	switch {
	case flagValue != "":
		return flagValue
	case len(args) > 0:
		return args[0]
	default:
		return os.Getenv("RELAYD_CONFIG")
	}
}

func main() {
	flagSet := pflag.NewFlagSet("relayd", pflag.ContinueOnError)
	configFlag := flagSet.StringP("config", "c", "", "TOML configuration file")
	logLevel := flagSet.StringP("log-level", "l", "", "overrides the configured log level")
	envFile := flagSet.String("env-file", ".env", "file of environment variables, loaded if present")
	help := flagSet.BoolP("help", "h", false, "show this help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printUsage(flagSet)
			return
		}
		log.WithError(err).Fatal("Failed to parse arguments")
	}
	if *help {
		printUsage(flagSet)
		return
	}

	_ = godotenv.Load(*envFile)

	filename := configFile(*configFlag, flagSet.Args())
	if filename == "" {
		printUsage(flagSet)
		os.Exit(1)
	}

	conf, err := parseConfig(filename)
	if err != nil {
		log.WithFields(log.Fields{
			"file":  filename,
			"error": err,
		}).Fatal("Failed to parse config")
	}

	setupLogging(conf.Logging, *logLevel)

	if conf.Profiling {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	d, err := newRelayd(conf)
	if err != nil {
		log.WithError(err).Fatal("Failed to create context relay")
	}

	if err := d.start(); err != nil {
		_ = d.close()
		log.WithError(err).Fatal("Failed to start context relay")
	}

	waitSigint()
	log.Info("Shutting down..")

	if err := d.close(); err != nil {
		log.WithError(err).Warn("Errors occurred while shutting down")
	}
}
