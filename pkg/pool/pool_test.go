package pool

import (
	"testing"

	"github.com/WhileEndless/go-rawserver/pkg/provision"
)

func testCfg() provision.Config {
	return provision.Config{
		SocketBufferSize: 16,
		RecvBufferRetain: 16,
		ArenaRetain:      16,
		RequestMax:       256,
		CapturesMax:      4,
		QueriesMax:       4,
	}
}

func TestBorrowReleaseBalance(t *testing.T) {
	p := New(4, testCfg())
	if p.Clean() != 4 {
		t.Fatalf("clean = %d, want 4", p.Clean())
	}

	prov, idx, ok := p.Borrow(-1)
	if !ok || prov == nil {
		t.Fatalf("borrow failed")
	}
	if p.Clean() != 3 {
		t.Fatalf("clean = %d, want 3", p.Clean())
	}

	p.Release(idx)
	if p.Clean() != 4 {
		t.Fatalf("clean = %d after release, want 4", p.Clean())
	}
}

func TestBorrowExhaustion(t *testing.T) {
	p := New(2, testCfg())
	_, _, ok1 := p.Borrow(-1)
	_, _, ok2 := p.Borrow(-1)
	if !ok1 || !ok2 {
		t.Fatalf("expected both borrows to succeed")
	}
	if !p.Full() {
		t.Fatalf("expected pool full")
	}
	_, _, ok3 := p.Borrow(-1)
	if ok3 {
		t.Fatalf("expected borrow to fail when full")
	}
}

func TestBorrowHintLocality(t *testing.T) {
	p := New(4, testCfg())
	prov, idx, ok := p.Borrow(2)
	if !ok || idx != 2 || prov != p.At(2) {
		t.Fatalf("expected hinted slot 2, got idx=%d ok=%v", idx, ok)
	}
}

func TestBorrowHintFallsBackWhenDirty(t *testing.T) {
	p := New(2, testCfg())
	_, idx1, _ := p.Borrow(0)
	if idx1 != 0 {
		t.Fatalf("expected slot 0 first")
	}
	_, idx2, ok := p.Borrow(0)
	if !ok || idx2 == 0 {
		t.Fatalf("expected fallback to a different slot, got idx=%d", idx2)
	}
}

func TestStatsReflectOccupancy(t *testing.T) {
	p := New(3, testCfg())
	p.Borrow(-1)
	stats := p.Stats()
	if stats.Capacity != 3 || stats.Active != 1 || stats.Idle != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestReleaseAlreadyCleanIsNoop(t *testing.T) {
	p := New(2, testCfg())
	p.Release(0)
	if p.Clean() != 2 {
		t.Fatalf("clean = %d, want 2", p.Clean())
	}
}
