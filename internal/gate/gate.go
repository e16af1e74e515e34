// Package gate serializes hint requests and suppresses ones whose context
// has not changed since the last issued request.
package gate

import "strings"

type Outcome int

const (
	Granted Outcome = iota
	DeniedBusy
	DeniedDuplicate
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case DeniedBusy:
		return "denied_busy"
	case DeniedDuplicate:
		return "denied_duplicate"
	default:
		return "unknown"
	}
}

const hashSeparator = "\n"

// Hash is the dedup fingerprint of a context snapshot.
func Hash(context []string) string {
	return strings.Join(context, hashSeparator)
}

// Gate allows at most one outstanding request. It is owned by one pipeline
// loop and is not safe for concurrent use.
type Gate struct {
	pending  bool
	lastHash string
	gen      uint64
}

func New() *Gate { return &Gate{} }

// Lease is the scoped handle of a granted acquisition.
type Lease struct {
	g    *Gate
	gen  uint64
	done bool
}

// TryAcquire returns a lease only when Granted. The issued hash is recorded
// at grant time, so a failed request still counts as asked. A fresh gate has
// an empty last hash, so an empty context is a duplicate until something is asked.
func (g *Gate) TryAcquire(context []string) (*Lease, Outcome) {
	if g.pending {
		return nil, DeniedBusy
	}
	h := Hash(context)
	if h == g.lastHash {
		return nil, DeniedDuplicate
	}
	g.pending = true
	g.lastHash = h
	g.gen++
	return &Lease{g: g, gen: g.gen}, Granted
}

// Release ends the acquisition. Calling it more than once, or after the gate
// was Reset and re-acquired, has no effect.
func (l *Lease) Release() {
	if l == nil || l.done {
		return
	}
	l.done = true
	if l.g.gen == l.gen {
		l.g.pending = false
	}
}

// Reset force-releases any outstanding lease.
func (g *Gate) Reset() {
	g.pending = false
	g.gen++
}

// Forget drops the last issued hash so the next non-empty context is granted.
func (g *Gate) Forget() {
	g.lastHash = ""
}

func (g *Gate) Pending() bool { return g.pending }
