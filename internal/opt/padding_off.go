//go:build (amd64 || 386 || arm || mips || mipsle || wasm) && !encsync_stripe_padding

package opt

// Stripe_ is a per-worker counter slot.
// Padding is disabled by default for amd64 and 32-bit architectures.
type Stripe_ struct {
	C uintptr // owned by a single goroutine while it runs
}
