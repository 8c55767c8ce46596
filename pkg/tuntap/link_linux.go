//go:build linux

package tuntap

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"

	"invpn-go/pkg/log"
)

// configure programs the interface hardware address to the node identity and
// brings the link up.
func (i *Interface) configure(mac net.HardwareAddr) error {
	link, err := netlink.LinkByName(i.Name())
	if err != nil {
		return fmt.Errorf("tuntap: failed to find interface %q: %w", i.Name(), err)
	}

	if err := netlink.LinkSetHardwareAddr(link, mac); err != nil {
		if !errors.Is(err, syscall.EOPNOTSUPP) {
			return fmt.Errorf("tuntap: failed to set MAC %s on %q: %w", mac, i.Name(), err)
		}
		log.Warn().Str("iface", i.Name()).Str("mac", mac.String()).Err(err).Msg("cannot set hardware address")
	}

	if err := netlink.LinkSetMTU(link, MTU); err != nil {
		return fmt.Errorf("tuntap: failed to set MTU on %q: %w", i.Name(), err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("tuntap: failed to bring up %q: %w", i.Name(), err)
	}
	log.Info().Str("iface", i.Name()).Str("mac", mac.String()).Msg("tap interface up")
	return nil
}
