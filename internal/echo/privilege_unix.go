//go:build unix

package echo

import "golang.org/x/sys/unix"

// defaultPrivileged reports whether raw ICMP sockets can be opened.
func defaultPrivileged() bool {
	return unix.Geteuid() == 0
}
