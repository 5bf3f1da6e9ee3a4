//go:build unix

package abi

import "golang.org/x/sys/unix"

// Status codes returned by the entry points, matching the host's errno.
const (
	EINVAL = int32(unix.EINVAL)
	EBUSY  = int32(unix.EBUSY)
)
