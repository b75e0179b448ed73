package tlsslot

import (
	"crypto/tls"
	"testing"

	"github.com/WhileEndless/go-rawserver/pkg/tlsengine"
)

func TestSetGetClear(t *testing.T) {
	s := New(3)
	if s.Occupied(0) {
		t.Fatalf("expected empty slot")
	}

	s.Clear(0) // clearing an empty slot must not panic
	if s.Occupied(0) {
		t.Fatalf("expected still empty after clearing empty slot")
	}

	e := tlsengine.NewServerEngine(&tls.Config{})
	s.Set(1, e)
	if s.Get(1) != e || !s.Occupied(1) {
		t.Fatalf("expected slot 1 to hold the engine after Set")
	}
	s.Clear(1)
	if s.Get(1) != nil || s.Occupied(1) {
		t.Fatalf("expected slot 1 empty after Clear")
	}
}

func TestOccupiedTracksIndexIndependently(t *testing.T) {
	s := New(2)
	if s.Occupied(0) || s.Occupied(1) {
		t.Fatalf("expected both slots empty initially")
	}

	s.Set(1, tlsengine.NewServerEngine(&tls.Config{}))
	defer s.Clear(1)
	if s.Occupied(0) || !s.Occupied(1) {
		t.Fatalf("expected only slot 1 occupied")
	}
}
