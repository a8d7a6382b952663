// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package relay routes context packages into recipient mailboxes.
//
// A Router validates a submission, resolves its targets by the addressing policy of a RoutingConf and appends
// the package to each target's mailbox. Explicitly targeted packages reach exactly that one mailbox. Untargeted
// packages from the primary producer go to the primary consumer; all other untargeted packages are broadcast
// to every recipient except the sender. Retrieval drains a mailbox completely.
//
// Every mutation is reported to a Notifier, which is usually a livestate.Publisher.
package relay
