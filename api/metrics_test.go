package api

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewMetrics registers on the default prometheus registry, so every test
// must use a namespace no other test registers.

// TestRecordFinalize verifies a finalization bumps the counter, moves the
// height gauge and lands a latency observation
func TestRecordFinalize(t *testing.T) {
	m := NewMetrics("testfinalize")

	m.RecordFinalize(42, 250*time.Millisecond)
	m.RecordFinalize(43, 100*time.Millisecond)

	if got := testutil.ToFloat64(m.FinalizedTotal); got != 2 {
		t.Errorf("finalized total = %g, want 2", got)
	}
	if got := testutil.ToFloat64(m.Height); got != 43 {
		t.Errorf("height gauge = %g, want 43", got)
	}
	if got := testutil.CollectAndCount(m.FinalizeLatency); got != 1 {
		t.Errorf("latency histogram collected %d series, want 1", got)
	}
}

// TestRecordVote verifies votes are counted per decision label
func TestRecordVote(t *testing.T) {
	m := NewMetrics("testvote")

	m.RecordVote("Approve")
	m.RecordVote("Approve")
	m.RecordVote("Reject")

	if got := testutil.ToFloat64(m.VotesTotal.WithLabelValues("Approve")); got != 2 {
		t.Errorf("approve votes = %g, want 2", got)
	}
	if got := testutil.ToFloat64(m.VotesTotal.WithLabelValues("Reject")); got != 1 {
		t.Errorf("reject votes = %g, want 1", got)
	}
}

// TestUpdateLedger verifies the ledger gauges track the latest snapshot
func TestUpdateLedger(t *testing.T) {
	m := NewMetrics("testledger")

	m.UpdateLedger(1000000, 12, 3)
	m.UpdateLedger(1000000, 13, 0)

	if got := testutil.ToFloat64(m.TotalSupply); got != 1000000 {
		t.Errorf("supply gauge = %g, want 1000000", got)
	}
	if got := testutil.ToFloat64(m.Accounts); got != 13 {
		t.Errorf("accounts gauge = %g, want 13", got)
	}
	if got := testutil.ToFloat64(m.PoolSize); got != 0 {
		t.Errorf("pool size gauge = %g, want 0", got)
	}
}
