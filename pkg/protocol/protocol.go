// Package protocol implements the framing used on invpn mesh links. Every
// frame is a 2-byte big-endian length followed by a kind byte and a
// kind-specific payload; the length counts the kind byte and payload but not
// itself. Three kinds exist: route announces, targetted (unicast) ethernet
// payloads and flooded (broadcast) ethernet payloads.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// Kind identifies the payload carried by a frame.
type Kind uint8

const (
	KindAnnounce  Kind = 0x00
	KindUnicast   Kind = 0x80
	KindBroadcast Kind = 0x81
)

func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "Announce"
	case KindUnicast:
		return "Unicast"
	case KindBroadcast:
		return "Broadcast"
	default:
		return "Unknown"
	}
}

const (
	// Version is the announce payload version this node speaks.
	Version uint8 = 1

	// MACSize is the length of a layer-2 hardware address.
	MACSize = 6

	// MaxFrameSize bounds the kind+payload section of a frame. Large enough
	// for a full 1500-byte ethernet payload plus the broadcast header.
	MaxFrameSize = 2048

	// AnnounceSize is the fixed payload size of an announce:
	// version (1) + stamp (8) + origin MAC (6).
	AnnounceSize = 1 + 8 + MACSize

	// UnicastHeaderSize is dst MAC + src MAC.
	UnicastHeaderSize = 2 * MACSize

	// BroadcastHeaderSize is stamp (8) + src MAC.
	BroadcastHeaderSize = 8 + MACSize
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("protocol: empty frame")
	ErrShortPayload  = errors.New("protocol: payload too short")
	ErrBadVersion    = errors.New("protocol: unsupported announce version")
	ErrUnknownKind   = errors.New("protocol: unknown frame kind")
)

// Encode builds a complete wire frame from a kind and its payload.
func Encode(kind Kind, payload []byte) ([]byte, error) {
	if 1+len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, 2+1+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], uint16(1+len(payload)))
	frame[2] = byte(kind)
	copy(frame[3:], payload)
	return frame, nil
}

// Decode reads exactly one frame from r and returns its kind and payload.
// Any error other than io.EOF on the very first byte is fatal for the link.
func Decode(r io.Reader) (Kind, []byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint16(lenBuf[:])
	if length == 0 {
		return 0, nil, ErrEmptyFrame
	}
	if int(length) > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return Kind(body[0]), body[1:], nil
}

// PeekKind returns the kind byte of an encoded frame without decoding it.
func PeekKind(frame []byte) (Kind, bool) {
	if len(frame) < 3 {
		return 0, false
	}
	return Kind(frame[2]), true
}

// Announce advertises that origin is reachable, stamped for freshness.
type Announce struct {
	Version uint8
	Stamp   int64
	Origin  net.HardwareAddr
}

// NewAnnounce builds an announce for origin with the given stamp.
func NewAnnounce(origin net.HardwareAddr, stamp int64) *Announce {
	return &Announce{Version: Version, Stamp: stamp, Origin: origin}
}

func (a *Announce) MarshalBinary() ([]byte, error) {
	if len(a.Origin) != MACSize {
		return nil, fmt.Errorf("protocol: bad origin MAC length %d", len(a.Origin))
	}
	buf := make([]byte, AnnounceSize)
	buf[0] = a.Version
	binary.BigEndian.PutUint64(buf[1:9], uint64(a.Stamp))
	copy(buf[9:], a.Origin)
	return buf, nil
}

func (a *Announce) UnmarshalBinary(data []byte) error {
	if len(data) < AnnounceSize {
		return ErrShortPayload
	}
	a.Version = data[0]
	if a.Version != Version {
		return ErrBadVersion
	}
	a.Stamp = int64(binary.BigEndian.Uint64(data[1:9]))
	a.Origin = append(net.HardwareAddr(nil), data[9:9+MACSize]...)
	return nil
}

// Unicast carries an ethernet payload routed to a single destination.
type Unicast struct {
	Dst     net.HardwareAddr
	Src     net.HardwareAddr
	Payload []byte
}

func (u *Unicast) MarshalBinary() ([]byte, error) {
	if len(u.Dst) != MACSize || len(u.Src) != MACSize {
		return nil, fmt.Errorf("protocol: bad MAC length dst=%d src=%d", len(u.Dst), len(u.Src))
	}
	buf := make([]byte, UnicastHeaderSize+len(u.Payload))
	copy(buf[0:MACSize], u.Dst)
	copy(buf[MACSize:UnicastHeaderSize], u.Src)
	copy(buf[UnicastHeaderSize:], u.Payload)
	return buf, nil
}

func (u *Unicast) UnmarshalBinary(data []byte) error {
	if len(data) < UnicastHeaderSize {
		return ErrShortPayload
	}
	u.Dst = append(net.HardwareAddr(nil), data[0:MACSize]...)
	u.Src = append(net.HardwareAddr(nil), data[MACSize:UnicastHeaderSize]...)
	u.Payload = append([]byte(nil), data[UnicastHeaderSize:]...)
	return nil
}

// Broadcast carries an ethernet payload flooded to every node, stamped so
// receivers can suppress duplicates.
type Broadcast struct {
	Stamp   int64
	Src     net.HardwareAddr
	Payload []byte
}

func (b *Broadcast) MarshalBinary() ([]byte, error) {
	if len(b.Src) != MACSize {
		return nil, fmt.Errorf("protocol: bad src MAC length %d", len(b.Src))
	}
	buf := make([]byte, BroadcastHeaderSize+len(b.Payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(b.Stamp))
	copy(buf[8:BroadcastHeaderSize], b.Src)
	copy(buf[BroadcastHeaderSize:], b.Payload)
	return buf, nil
}

func (b *Broadcast) UnmarshalBinary(data []byte) error {
	if len(data) < BroadcastHeaderSize {
		return ErrShortPayload
	}
	b.Stamp = int64(binary.BigEndian.Uint64(data[0:8]))
	b.Src = append(net.HardwareAddr(nil), data[8:BroadcastHeaderSize]...)
	b.Payload = append([]byte(nil), data[BroadcastHeaderSize:]...)
	return nil
}
