// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent binds a relay to its transports.
//
// Agents submit and retrieve context packages through the RestAgent. Observers follow the live state through
// the WebSocketAgent, either as JSON text frames or as CBOR binary frames. The NatsAgent mirrors all events to a
// NATS server and accepts submissions by request/reply. For each server side agent, a client side connector is
// available, e.g., the WebSocketAgentConnector.
package agent
