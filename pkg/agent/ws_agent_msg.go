// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"io"
	"reflect"

	"github.com/dtn7/cboring"
)

// webAgentMessage describes a binary frame exchanged over a WebSocketAgent with the CBOR codec.
// Implementations are available in ws_agent_msg_impl.go.
//
// Each frame is a CBOR array of two elements: the typeCode followed by the message's own encoding.
type webAgentMessage interface {
	// typeCode uniquely identifies each message type, see wamMapping.
	typeCode() uint64

	// CborMarshaler only covers the message's content, the frame is handled by marshalCbor and unmarshalCbor.
	cboring.CborMarshaler
}

const (
	// wamEventCode is sent from the server, carrying a livestate.Event.
	wamEventCode uint64 = 0

	// wamRequestStateCode is sent from a client to request a fresh system state.
	wamRequestStateCode uint64 = 1

	// wamSendPackageCode is sent from a client to submit a package as the external sender.
	wamSendPackageCode uint64 = 2
)

var wamMapping = map[uint64]reflect.Type{
	wamEventCode:        reflect.TypeOf(wamEvent{}),
	wamRequestStateCode: reflect.TypeOf(wamRequestState{}),
	wamSendPackageCode:  reflect.TypeOf(wamSendPackage{}),
}

// marshalCbor writes a webAgentMessage's frame.
func marshalCbor(wam webAgentMessage, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	} else if err := cboring.WriteUInt(wam.typeCode(), w); err != nil {
		return err
	}

	return cboring.Marshal(wam, w)
}

// unmarshalCbor reads a frame and creates the webAgentMessage of the announced type.
func unmarshalCbor(r io.Reader) (webAgentMessage, error) {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return nil, err
	} else if n != 2 {
		return nil, fmt.Errorf("frame must be an array of two elements, not %d", n)
	}

	code, err := cboring.ReadUInt(r)
	if err != nil {
		return nil, err
	}

	t, ok := wamMapping[code]
	if !ok {
		return nil, fmt.Errorf("unknown frame type code %d", code)
	}

	wam := reflect.New(t).Interface().(webAgentMessage)
	if err := cboring.Unmarshal(wam, r); err != nil {
		return nil, fmt.Errorf("frame type %d: %w", code, err)
	}
	return wam, nil
}
