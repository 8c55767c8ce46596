package tuntap

import (
	"errors"
	"net"
)

// Common errors returned by functions in this package
var (
	ErrFrameTooShort = errors.New("tuntap: ethernet frame too short")
)

const (
	// PacketInfoSize is the tun_pi prefix the kernel places before each
	// frame when the device is opened with packet information.
	PacketInfoSize = 4

	// HeaderSize is dst MAC + src MAC; the ethertype and everything after
	// it travel as the frame payload.
	HeaderSize = 12

	// MTU is the assumed maximum ethernet payload carried by the device.
	MTU = 1500
)

// BroadcastAddr is the all-ones layer-2 destination.
var BroadcastAddr = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcast reports whether addr is the ethernet broadcast address.
func IsBroadcast(addr net.HardwareAddr) bool {
	if len(addr) != 6 {
		return false
	}
	return addr[0] == 0xff && addr[1] == 0xff &&
		addr[2] == 0xff && addr[3] == 0xff &&
		addr[4] == 0xff && addr[5] == 0xff
}

// Frame is one ethernet frame split the way the mesh consumes it: addresses
// separated out, payload starting at the ethertype.
type Frame struct {
	Src     net.HardwareAddr
	Dst     net.HardwareAddr
	Payload []byte
}

// splitFrame parses a raw TAP read (including the packet-info prefix) into a
// Frame. The returned slices alias buf.
func splitFrame(buf []byte) (Frame, error) {
	if len(buf) < PacketInfoSize+HeaderSize {
		return Frame{}, ErrFrameTooShort
	}
	eth := buf[PacketInfoSize:]
	return Frame{
		Dst:     net.HardwareAddr(eth[0:6]),
		Src:     net.HardwareAddr(eth[6:12]),
		Payload: eth[12:],
	}, nil
}

// buildFrame assembles a raw TAP write: packet-info prefix, ethernet header,
// payload. The payload begins with the ethertype, which is mirrored into the
// packet-info proto field for the kernel.
func buildFrame(src, dst net.HardwareAddr, payload []byte) ([]byte, error) {
	if len(src) != 6 || len(dst) != 6 {
		return nil, ErrFrameTooShort
	}
	buf := make([]byte, PacketInfoSize+HeaderSize+len(payload))
	if len(payload) >= 2 {
		buf[2] = payload[0]
		buf[3] = payload[1]
	}
	copy(buf[PacketInfoSize:], dst)
	copy(buf[PacketInfoSize+6:], src)
	copy(buf[PacketInfoSize+HeaderSize:], payload)
	return buf, nil
}
