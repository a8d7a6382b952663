// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Announcement of a running relay's endpoints.
type Announcement struct {
	// Name identifies the announcing relay instance.
	Name string

	// RestPort is the TCP port of the RestAgent and the WebSocketAgent.
	RestPort uint

	// WebSocketPath is the HTTP path of the WebSocketAgent, e.g., /ws.
	WebSocketPath string

	// Address is the sender's address as seen by the receiver. It is not part of the CBOR representation.
	Address string
}

// RestUrl of the announced relay. The Address must be set.
func (announcement Announcement) RestUrl() string {
	return fmt.Sprintf("http://%s:%d", announcement.Address, announcement.RestPort)
}

// WebSocketUrl of the announced relay. The Address must be set.
func (announcement Announcement) WebSocketUrl() string {
	return fmt.Sprintf("ws://%s:%d%s", announcement.Address, announcement.RestPort, announcement.WebSocketPath)
}

// UnmarshalAnnouncements creates a new array of Announcement based on a CBOR byte string.
func UnmarshalAnnouncements(data []byte) (announcements []Announcement, err error) {
	buff := bytes.NewBuffer(data)

	l, cErr := cboring.ReadArrayLength(buff)
	if cErr != nil {
		err = cErr
		return
	}

	announcements = make([]Announcement, l)
	for i := range announcements {
		if cErr := cboring.Unmarshal(&announcements[i], buff); cErr != nil {
			err = fmt.Errorf("unmarshalling Announcement %d failed: %w", i, cErr)
			return
		}
	}

	return
}

// MarshalAnnouncements into a CBOR byte string. An empty list is valid; it is used by pure listeners.
func MarshalAnnouncements(announcements []Announcement) (data []byte, err error) {
	buff := new(bytes.Buffer)

	if cErr := cboring.WriteArrayLength(uint64(len(announcements)), buff); cErr != nil {
		err = cErr
		return
	}

	for i := range announcements {
		if cErr := cboring.Marshal(&announcements[i], buff); cErr != nil {
			err = fmt.Errorf("marshalling Announcement %d (%v) failed: %w", i, announcements[i], cErr)
			return
		}
	}

	data = buff.Bytes()
	return
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(announcement.Name, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.RestPort), w); err != nil {
		return err
	}
	return cboring.WriteTextString(announcement.WebSocketPath, w)
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	if name, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		announcement.Name = name
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if n == 0 || n > 65535 {
		return fmt.Errorf("invalid port %d", n)
	} else {
		announcement.RestPort = uint(n)
	}

	if path, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		announcement.WebSocketPath = path
	}

	return nil
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%s,%s,%d,%s)",
		announcement.Name, announcement.Address, announcement.RestPort, announcement.WebSocketPath)
}
