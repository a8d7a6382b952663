// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mailbox stores context packages in one FIFO queue per recipient.
//
// The set of recipients is fixed when a Store is created. Every recipient owns exactly one mailbox for the
// Store's lifetime, and each mailbox is guarded by its own lock, so operations on different recipients never
// contend. Packages only leave a mailbox through Drain, which empties the whole queue at once.
package mailbox
