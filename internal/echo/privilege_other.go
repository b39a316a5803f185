//go:build !unix

package echo

// defaultPrivileged always selects raw sockets; datagram ICMP sockets are
// a Linux/Darwin feature.
func defaultPrivileged() bool {
	return true
}
