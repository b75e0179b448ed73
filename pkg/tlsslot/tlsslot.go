// Package tlsslot holds per-slot optional TLS engines paired by index
// with a Provision, never moved after construction. It is the TLS-only
// counterpart of pkg/pool: where pkg/pool tracks connection lifecycle,
// tlsslot tracks which of those connections currently carry a live TLS
// session.
package tlsslot

import "github.com/WhileEndless/go-rawserver/pkg/tlsengine"

// Slots is a fixed-size array of optional *tlsengine.Engine, indexed
// identically to the paired ProvisionPool: under TLS, slot i is non-empty
// iff Provision i's job is handshake, recv, or send.
type Slots struct {
	engines []*tlsengine.Engine
}

// New allocates capacity empty slots, matching the ProvisionPool's fixed
// size.
func New(capacity int) *Slots {
	return &Slots{engines: make([]*tlsengine.Engine, capacity)}
}

// Get returns the engine at index, or nil if the slot carries no TLS
// session.
func (s *Slots) Get(index int) *tlsengine.Engine { return s.engines[index] }

// Set installs engine at index, pairing it with the Provision at the same
// index.
func (s *Slots) Set(index int, engine *tlsengine.Engine) { s.engines[index] = engine }

// Clear frees the slot at index, closing its engine's bridge if one is
// present.
func (s *Slots) Clear(index int) {
	if e := s.engines[index]; e != nil {
		e.Close()
	}
	s.engines[index] = nil
}

// Occupied reports whether index currently carries a TLS session.
func (s *Slots) Occupied(index int) bool { return s.engines[index] != nil }
