// Package tuntap opens the kernel TAP device the mesh pumps ethernet frames
// through. The device is created from a name template (e.g. "invpn%d"), its
// hardware address programmed to the node identity, and frames are exchanged
// as (src, dst, payload) triples with the ethernet header split off.
package tuntap

import (
	"net"
	"os"
	"time"
)

// Endpoint is the capability surface the mesh controller consumes. The
// concrete implementation is the platform Interface; tests substitute fakes.
type Endpoint interface {
	ReadFrame() (Frame, error)
	WriteFrame(src, dst net.HardwareAddr, payload []byte) error
	Name() string
	Close() error
}

// Interface wraps the platform-specific Device.
type Interface struct {
	dev *Device
	buf [PacketInfoSize + HeaderSize + MTU + 64]byte
}

// New creates the TAP device from a name template and brings it up with the
// given hardware address.
func New(nameTemplate string, mac net.HardwareAddr) (*Interface, error) {
	dev, err := createDevice(nameTemplate)
	if err != nil {
		return nil, err
	}
	i := &Interface{dev: dev}
	if err := i.configure(mac); err != nil {
		dev.Close()
		return nil, err
	}
	return i, nil
}

// ReadFrame blocks until one ethernet frame arrives from the kernel and
// returns it with the packet-info prefix stripped and the addresses split
// off. The returned slices are only valid until the next ReadFrame.
func (i *Interface) ReadFrame() (Frame, error) {
	n, err := i.dev.Read(i.buf[:])
	if err != nil {
		return Frame{}, err
	}
	return splitFrame(i.buf[:n])
}

// WriteFrame injects one ethernet frame into the kernel.
func (i *Interface) WriteFrame(src, dst net.HardwareAddr, payload []byte) error {
	raw, err := buildFrame(src, dst, payload)
	if err != nil {
		return err
	}
	_, err = i.dev.Write(raw)
	return err
}

// Name returns the interface name the kernel assigned.
func (i *Interface) Name() string { return i.dev.Name }

// Close releases the device file descriptor.
func (i *Interface) Close() error { return i.dev.Close() }

// SetReadDeadline sets the deadline for ReadFrame; a deadline in the past
// unblocks a pending read.
func (i *Interface) SetReadDeadline(t time.Time) error {
	return i.dev.File.SetReadDeadline(t)
}

// Device holds the platform device state.
type Device struct {
	File *os.File
	Name string
}

func (d *Device) Read(b []byte) (int, error)  { return d.File.Read(b) }
func (d *Device) Write(b []byte) (int, error) { return d.File.Write(b) }
func (d *Device) Close() error                { return d.File.Close() }
