// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package relay

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrUnknownRecipient is returned if a sender, target or recipient is not part of the configured set.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrEmptySubmission is returned for a submission without payload or with an empty JSON object.
	ErrEmptySubmission = errors.New("empty submission")

	// ErrMalformedSubmission is returned for a payload which is no JSON object.
	ErrMalformedSubmission = errors.New("malformed submission")

	// ErrPartialDelivery is reported if at least one resolved target could not be written.
	ErrPartialDelivery = errors.New("partial delivery failure")

	// ErrDeliveryFailed is returned by Submit if no resolved target could be written.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// RecipientError names the field holding an unknown identity.
type RecipientError struct {
	// Field is one of "sender", "target" or "recipient".
	Field string
	Name  string
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("%s %q is not a configured recipient", e.Field, e.Name)
}

// Is makes a RecipientError match ErrUnknownRecipient.
func (e *RecipientError) Is(target error) bool {
	return target == ErrUnknownRecipient
}

// TargetFailure is a single mailbox which could not be written.
type TargetFailure struct {
	Recipient string
	Err       error
}

// PartialDeliveryError lists which targets failed. Earlier successful enqueues are not rolled back.
type PartialDeliveryError struct {
	Succeeded []string
	Failed    []TargetFailure
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("%v: %d of %d targets failed: %v",
		ErrPartialDelivery, len(e.Failed), len(e.Failed)+len(e.Succeeded), e.Unwrap())
}

// Is makes a PartialDeliveryError match ErrPartialDelivery.
func (e *PartialDeliveryError) Is(target error) bool {
	return target == ErrPartialDelivery
}

// Unwrap to the aggregated per-target errors.
func (e *PartialDeliveryError) Unwrap() error {
	var errs *multierror.Error
	for _, failure := range e.Failed {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", failure.Recipient, failure.Err))
	}
	return errs.ErrorOrNil()
}
