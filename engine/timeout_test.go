package engine

import (
	"testing"
	"time"
)

func makeTestTicker() *TimeoutTicker {
	config := DefaultConfig()
	config.RoundTimeout = 30 * time.Millisecond
	config.RoundTimeoutDelta = 10 * time.Millisecond
	return NewTimeoutTicker(config)
}

// TestTimeoutTickerDelivers verifies a scheduled deadline fires with its
// height and round
func TestTimeoutTickerDelivers(t *testing.T) {
	tt := makeTestTicker()
	tt.Start()
	defer tt.Stop()

	tt.ScheduleTimeout(TimeoutInfo{Height: 1, Round: 0})

	select {
	case ti := <-tt.Chan():
		if ti.Height != 1 || ti.Round != 0 {
			t.Errorf("timeout info = %+v, want height 1 round 0", ti)
		}
	case <-time.After(time.Second):
		t.Error("timeout not received")
	}
}

// TestTimeoutTickerReplaces verifies scheduling a new deadline cancels
// the previous one
func TestTimeoutTickerReplaces(t *testing.T) {
	tt := makeTestTicker()
	tt.Start()
	defer tt.Stop()

	tt.ScheduleTimeout(TimeoutInfo{Height: 1, Round: 0, Duration: 500 * time.Millisecond})
	tt.ScheduleTimeout(TimeoutInfo{Height: 1, Round: 1, Duration: 20 * time.Millisecond})

	select {
	case ti := <-tt.Chan():
		if ti.Round != 1 {
			t.Errorf("timeout round = %d, want the replacement round 1", ti.Round)
		}
	case <-time.After(time.Second):
		t.Error("timeout not received")
	}
}

// TestTimeoutTickerDefaultsDuration verifies a zero duration falls back
// to the config's per-round timeout with linear backoff
func TestTimeoutTickerDefaultsDuration(t *testing.T) {
	tt := makeTestTicker()
	tt.Start()
	defer tt.Stop()

	start := time.Now()
	tt.ScheduleTimeout(TimeoutInfo{Height: 1, Round: 2})

	select {
	case <-tt.Chan():
		// Round 2 backs off to base + 2 deltas.
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("fired after %s, want at least 50ms", elapsed)
		}
	case <-time.After(time.Second):
		t.Error("timeout not received")
	}
}

// TestTimeoutTickerStopCancels verifies no deadline fires after Stop
func TestTimeoutTickerStopCancels(t *testing.T) {
	tt := makeTestTicker()
	tt.Start()
	tt.ScheduleTimeout(TimeoutInfo{Height: 1, Round: 0, Duration: 20 * time.Millisecond})
	tt.Stop()

	select {
	case ti := <-tt.Chan():
		t.Errorf("unexpected timeout after stop: %+v", ti)
	case <-time.After(100 * time.Millisecond):
	}
}
