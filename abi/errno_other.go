//go:build !unix

package abi

// Status codes returned by the entry points. Hosts without a unix errno
// table use the POSIX values.
const (
	EINVAL int32 = 22
	EBUSY  int32 = 16
)
