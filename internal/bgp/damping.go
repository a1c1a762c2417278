package bgp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DampingTable implements route-flap damping (spec §4.8 "optional
// features": route-flap damping). RFC 2439's damping figure-of-merit
// decays exponentially between flaps and suppresses a route once it
// crosses a threshold; a token-bucket rate.Limiter is the same shape
// (decay toward a ceiling, consume on event, block once exhausted) so
// each (peer, prefix) gets one limiter instead of a hand-rolled half-life
// timer, in keeping with this codebase's preference for the rate package
// over bespoke decay arithmetic.
type DampingTable struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// reuseDelay approximates RFC 2439's reuse threshold: once a flapping
	// route's limiter is exhausted, it stays suppressed for this long
	// without a further flap before being allowed to reappear.
	reuseDelay      time.Duration
	suppressedUntil map[string]time.Time
}

func NewDampingTable() *DampingTable {
	return &DampingTable{
		limiters:        make(map[string]*rate.Limiter),
		suppressedUntil: make(map[string]time.Time),
		reuseDelay:      10 * time.Minute,
	}
}

func dampKey(peer string, p Prefix) string {
	return peer + "|" + p.String()
}

// suppressed records one flap (a withdraw-then-readvertise or repeated
// attribute change) for (peer, prefix) and reports whether the route
// should currently be withheld from Loc-RIB.
func (d *DampingTable) suppressed(peer string, p Prefix) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dampKey(peer, p)
	if until, ok := d.suppressedUntil[key]; ok {
		if time.Now().Before(until) {
			return true
		}
		delete(d.suppressedUntil, key)
	}

	lim, ok := d.limiters[key]
	if !ok {
		// Allow up to 4 flaps per minute before suppression, refilling at
		// 1 per 15s — values chosen to match common default damping
		// profiles (half-life around a minute for a lightly flapping peer).
		lim = rate.NewLimiter(rate.Every(15*time.Second), 4)
		d.limiters[key] = lim
	}
	if !lim.Allow() {
		d.suppressedUntil[key] = time.Now().Add(d.reuseDelay)
		return true
	}
	return false
}

// clearPeer drops all damping state for a peer whose session just ended
// (spec §3 lifecycle: reattachment should not inherit stale penalties
// forever, only the ordinary RFC 2439 decay already captured above).
func (d *DampingTable) clearPeer(peer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := peer + "|"
	for k := range d.limiters {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(d.limiters, k)
		}
	}
	for k := range d.suppressedUntil {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(d.suppressedUntil, k)
		}
	}
}
