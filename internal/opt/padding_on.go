//go:build !(amd64 || 386 || arm || mips || mipsle || wasm) || encsync_stripe_padding

package opt

import (
	"unsafe"
)

// Stripe_ is a per-worker counter slot padded to a full cache line so that
// neighbouring workers do not share one.
// Use: go build -tags=encsync_stripe_padding to force padding on amd64.
type Stripe_ struct {
	C uintptr // owned by a single goroutine while it runs
	_ [(CacheLineSize_ - unsafe.Sizeof(struct {
		C uintptr
	}{})%CacheLineSize_) % CacheLineSize_]byte
}
