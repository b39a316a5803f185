package engine

import (
	"net"
)

// InterfaceChecker reports the host online while at least one non-loopback
// interface is up and carries an address.
type InterfaceChecker struct {
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// NewInterfaceChecker creates a checker backed by the host's interfaces.
func NewInterfaceChecker() *InterfaceChecker {
	return &InterfaceChecker{
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

func (c *InterfaceChecker) Connected() bool {
	ifaces, err := c.interfaces()
	if err != nil {
		// Unknown means try anyway.
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := c.addrs(iface)
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
