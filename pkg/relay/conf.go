// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package relay

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ctxrelay/ctxrelay-go/pkg/mailbox"
)

// DefaultExternalSender names submissions without a registered sender, e.g., from observers.
const DefaultExternalSender = "external"

// RoutingConf describes the closed recipient set and the default addressing policy.
type RoutingConf struct {
	// Recipients is the case-sensitive set of registered agents. Each one owns a mailbox.
	Recipients []string

	// PrimaryProducer's untargeted packages are only delivered to the PrimaryConsumer. Both are optional.
	PrimaryProducer string `toml:"primary-producer"`
	PrimaryConsumer string `toml:"primary-consumer"`

	// ExternalSender is the sender name accepted besides the Recipients. Defaults to DefaultExternalSender.
	ExternalSender string `toml:"external-sender"`

	// MaxQueueLength limits each mailbox. Zero disables the limit.
	MaxQueueLength int `toml:"max-queue-length"`
}

func (conf RoutingConf) external() string {
	if conf.ExternalSender == "" {
		return DefaultExternalSender
	}
	return conf.ExternalSender
}

func (conf RoutingConf) isRecipient(name string) bool {
	for _, recipient := range conf.Recipients {
		if recipient == name {
			return true
		}
	}
	return false
}

// CheckValid returns an error for each inconsistency within this RoutingConf.
func (conf RoutingConf) CheckValid() (errs error) {
	if len(conf.Recipients) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("RoutingConf: no recipients configured"))
	}

	known := make(map[string]struct{}, len(conf.Recipients))
	for _, recipient := range conf.Recipients {
		if recipient == "" {
			errs = multierror.Append(errs, fmt.Errorf("RoutingConf: empty recipient name"))
		} else if _, ok := known[recipient]; ok {
			errs = multierror.Append(errs, fmt.Errorf("RoutingConf: recipient %q is listed twice", recipient))
		}
		known[recipient] = struct{}{}
	}

	if (conf.PrimaryProducer == "") != (conf.PrimaryConsumer == "") {
		errs = multierror.Append(errs,
			fmt.Errorf("RoutingConf: primary producer and consumer must be configured together"))
	}
	if conf.PrimaryProducer != "" && !conf.isRecipient(conf.PrimaryProducer) {
		errs = multierror.Append(errs,
			fmt.Errorf("RoutingConf: primary producer %q is no recipient", conf.PrimaryProducer))
	}
	if conf.PrimaryConsumer != "" && !conf.isRecipient(conf.PrimaryConsumer) {
		errs = multierror.Append(errs,
			fmt.Errorf("RoutingConf: primary consumer %q is no recipient", conf.PrimaryConsumer))
	}
	if conf.PrimaryProducer != "" && conf.PrimaryProducer == conf.PrimaryConsumer {
		errs = multierror.Append(errs,
			fmt.Errorf("RoutingConf: primary producer and consumer are both %q", conf.PrimaryProducer))
	}

	if conf.isRecipient(conf.external()) {
		errs = multierror.Append(errs,
			fmt.Errorf("RoutingConf: external sender %q collides with a recipient", conf.external()))
	}

	if conf.MaxQueueLength < 0 {
		errs = multierror.Append(errs, fmt.Errorf("RoutingConf: negative max-queue-length"))
	}

	return
}

// NewStore creates the mailbox.Store matching this RoutingConf.
func (conf RoutingConf) NewStore() (*mailbox.Store, error) {
	return mailbox.NewStore(conf.Recipients, conf.MaxQueueLength)
}

// resolve the mailboxes for an already validated submission.
func (conf RoutingConf) resolve(source, target string) (targets []string) {
	switch {
	case target != "":
		return []string{target}

	case conf.PrimaryProducer != "" && source == conf.PrimaryProducer:
		return []string{conf.PrimaryConsumer}

	default:
		targets = make([]string, 0, len(conf.Recipients))
		for _, recipient := range conf.Recipients {
			if recipient != source {
				targets = append(targets, recipient)
			}
		}
		return
	}
}
