//go:build linux

package tuntap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// createDevice opens /dev/net/tun as a TAP device with packet information
// kept (the 4-byte tun_pi prefix the frame helpers account for).
func createDevice(nameTemplate string) (*Device, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tuntap: open /dev/net/tun: %w", err)
	}

	ifr, err := unix.NewIfreq(nameTemplate)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tuntap: create ifreq: %w", err)
	}
	ifr.SetUint16(unix.IFF_TAP)

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tuntap: ioctl TUNSETIFF: %w", err)
	}
	name := ifr.Name()

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tuntap: set nonblock: %w", err)
	}

	return &Device{
		File: os.NewFile(uintptr(fd), "/dev/net/tun/"+name),
		Name: name,
	}, nil
}
