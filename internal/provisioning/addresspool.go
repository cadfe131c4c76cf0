package provisioning

import (
	"fmt"
	"net/netip"
	"sync"

	"go4.org/netipx"
)

// addressPool hands out addresses from a range. Claims are held in
// process until released so two concurrent workflows cannot pick the same
// address before either is bound on the router.
type addressPool struct {
	rng netipx.IPRange

	mu     sync.Mutex
	claims map[netip.Addr]struct{}
}

func newAddressPool(rng netipx.IPRange) *addressPool {
	return &addressPool{rng: rng, claims: make(map[netip.Addr]struct{})}
}

// claim returns the lowest address in the range that is neither taken nor
// claimed, and claims it.
func (p *addressPool) claim(taken []netip.Addr) (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b netipx.IPSetBuilder
	b.AddRange(p.rng)
	for _, a := range taken {
		b.Remove(a)
	}
	for a := range p.claims {
		b.Remove(a)
	}
	free, err := b.IPSet()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("build free set: %w", err)
	}
	ranges := free.Ranges()
	if len(ranges) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrAddressPoolExhausted, p.rng)
	}
	addr := ranges[0].From()
	p.claims[addr] = struct{}{}
	return addr, nil
}

// hold claims a specific address, e.g. one restored from a workflow.
func (p *addressPool) hold(addr netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims[addr] = struct{}{}
}

func (p *addressPool) release(addr netip.Addr) {
	if !addr.IsValid() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.claims, addr)
}

func (p *addressPool) contains(addr netip.Addr) bool {
	return p.rng.Contains(addr)
}
