package timing

import (
	"strings"
	"testing"
	"time"
)

func TestTimer(t *testing.T) {
	timer := NewTimer()

	timer.StartHandshake()
	time.Sleep(10 * time.Millisecond)
	timer.EndHandshake()

	timer.StartRecv()
	time.Sleep(10 * time.Millisecond)
	timer.EndRecv()

	timer.StartRoute()
	time.Sleep(10 * time.Millisecond)
	timer.EndRoute()

	timer.StartSend()
	time.Sleep(10 * time.Millisecond)
	timer.EndSend()

	metrics := timer.GetMetrics()

	if metrics.Handshake < 5*time.Millisecond {
		t.Errorf("unexpected handshake timing: %v", metrics.Handshake)
	}
	if metrics.Recv < 5*time.Millisecond {
		t.Errorf("unexpected recv timing: %v", metrics.Recv)
	}
	if metrics.Route < 5*time.Millisecond {
		t.Errorf("unexpected route timing: %v", metrics.Route)
	}
	if metrics.Send < 5*time.Millisecond {
		t.Errorf("unexpected send timing: %v", metrics.Send)
	}
	if metrics.TotalTime <= 0 {
		t.Error("total timing should be positive")
	}
	if metrics.TotalTime < metrics.Handshake+metrics.Recv+metrics.Route+metrics.Send {
		t.Error("total timing should be at least the sum of its phases")
	}
}

func TestTimerSkippedPhasesStayZero(t *testing.T) {
	timer := NewTimer()
	timer.StartRecv()
	time.Sleep(5 * time.Millisecond)
	timer.EndRecv()

	metrics := timer.GetMetrics()
	if metrics.Handshake != 0 {
		t.Errorf("plaintext connection should report zero handshake time, got %v", metrics.Handshake)
	}
	if metrics.Route != 0 || metrics.Send != 0 {
		t.Error("phases never started should report zero, not a spurious duration")
	}
}

func TestMetricsString(t *testing.T) {
	metrics := Metrics{
		Handshake: 10 * time.Millisecond,
		Recv:      20 * time.Millisecond,
		Route:     5 * time.Millisecond,
		Send:      15 * time.Millisecond,
		TotalTime: 100 * time.Millisecond,
	}

	str := metrics.String()
	if str == "" {
		t.Error("string representation should not be empty")
	}

	for _, substr := range []string{"handshake=", "recv=", "route=", "send=", "total="} {
		if !strings.Contains(str, substr) {
			t.Errorf("string representation should contain %q, got %q", substr, str)
		}
	}
}
