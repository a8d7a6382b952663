// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
	json "github.com/goccy/go-json"

	"github.com/ctxrelay/ctxrelay-go/pkg/livestate"
)

// wamEvent is a webAgentMessage for a livestate.Event. The Event's data is embedded as JSON.
type wamEvent struct {
	eventType string
	seq       uint64
	timestamp time.Time
	data      []byte
}

// newEventMessage creates a new wamEvent webAgentMessage.
func newEventMessage(e livestate.Event) (*wamEvent, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}

	return &wamEvent{
		eventType: e.Type,
		seq:       e.Seq,
		timestamp: e.Timestamp,
		data:      data,
	}, nil
}

// frame converts this message into an EventFrame, as received over the JSON codec.
func (we *wamEvent) frame() EventFrame {
	return EventFrame{
		Type:      we.eventType,
		Data:      json.RawMessage(we.data),
		Timestamp: we.timestamp,
		Seq:       we.seq,
	}
}

func (_ *wamEvent) typeCode() uint64 {
	return wamEventCode
}

func (we *wamEvent) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(we.eventType, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(we.seq, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(we.timestamp.UnixNano()), w); err != nil {
		return err
	}
	return cboring.WriteByteString(we.data, w)
}

func (we *wamEvent) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 4 {
		return fmt.Errorf("expected CBOR array of 4 elements, not %d", n)
	}

	if eventType, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		we.eventType = eventType
	}

	if seq, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		we.seq = seq
	}

	if nanos, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		we.timestamp = time.Unix(0, int64(nanos))
	}

	if data, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		we.data = data
	}

	return nil
}

// wamRequestState is a webAgentMessage sent from a client to request the current system state.
type wamRequestState struct{}

// newRequestStateMessage creates a new wamRequestState webAgentMessage.
func newRequestStateMessage() *wamRequestState {
	return &wamRequestState{}
}

func (_ *wamRequestState) typeCode() uint64 {
	return wamRequestStateCode
}

func (_ *wamRequestState) MarshalCbor(w io.Writer) error {
	return cboring.WriteArrayLength(0, w)
}

func (_ *wamRequestState) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 0 {
		return fmt.Errorf("expected empty CBOR array, not %d elements", n)
	}
	return nil
}

// wamSendPackage is a webAgentMessage sent from a client to submit a package's payload to a target.
type wamSendPackage struct {
	target  string
	payload []byte
}

// newSendPackageMessage creates a new wamSendPackage webAgentMessage.
func newSendPackageMessage(target string, payload []byte) *wamSendPackage {
	return &wamSendPackage{
		target:  target,
		payload: payload,
	}
}

func (_ *wamSendPackage) typeCode() uint64 {
	return wamSendPackageCode
}

func (wsp *wamSendPackage) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(wsp.target, w); err != nil {
		return err
	}

	return cboring.WriteByteString(wsp.payload, w)
}

func (wsp *wamSendPackage) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("expected CBOR array of 2 elements, not %d", n)
	}

	if target, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		wsp.target = target
	}

	if payload, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		wsp.payload = payload
	}

	return nil
}
