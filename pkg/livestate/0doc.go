// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package livestate mirrors mailbox state to connected observers.
//
// A Publisher keeps a registry of observers. A new observer first receives a full system state, followed by an
// Event for each later mutation. Snapshot and events are numbered under the registry lock: an observer whose
// state carries sequence number S receives exactly the events with a higher number, in publishing order.
//
// Each observer owns a bounded queue and a writer goroutine, so a slow peer never stalls the others. An
// observer whose queue overflows or whose Sink fails is evicted without retry. Independent of mutations, a
// heartbeat publishes the queue lengths periodically to heal missed events.
package livestate
