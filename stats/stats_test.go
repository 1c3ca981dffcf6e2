package stats

import (
	"testing"
	"time"

	"github.com/flowctl/policyd/logger"
)

func testAggregator() *Aggregator {
	// no consumer goroutine; events are applied by hand for determinism
	return &Aggregator{
		ch:       make(chan event, 2),
		counters: make(map[string]*counters),
		options: options{
			logger: logger.Nop(),
		},
	}
}

func TestAggregatorCounters(t *testing.T) {
	a := testAggregator()

	a.apply(event{ruleID: "r-game", bytes: 1500})
	a.apply(event{ruleID: "r-game", bytes: 500})
	a.apply(event{ruleID: "r-stream", bytes: 9000})

	snap := a.Snapshot()
	if got := snap["r-game"]; got.Matches != 2 || got.Bytes != 2000 {
		t.Errorf("r-game = %+v, want 2 matches / 2000 bytes", got)
	}
	if got := snap["r-stream"]; got.Matches != 1 || got.Bytes != 9000 {
		t.Errorf("r-stream = %+v, want 1 match / 9000 bytes", got)
	}
}

func TestAggregatorReset(t *testing.T) {
	a := testAggregator()
	a.apply(event{ruleID: "r-game", bytes: 100})
	a.apply(event{ruleID: "r-stream", bytes: 100})

	a.Reset("r-game")
	snap := a.Snapshot()
	if _, ok := snap["r-game"]; ok {
		t.Error("r-game survived its reset")
	}
	if _, ok := snap["r-stream"]; !ok {
		t.Error("reset of one rule cleared another")
	}

	a.Reset("")
	if len(a.Snapshot()) != 0 {
		t.Error("full reset left counters behind")
	}
}

func TestRecordNeverBlocks(t *testing.T) {
	a := testAggregator()

	// fill the buffer; further records are shed and counted
	a.Record("r", 1)
	a.Record("r", 1)
	a.Record("r", 1)
	a.Record("r", 1)

	if got := a.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestAggregatorEndToEnd(t *testing.T) {
	a := NewAggregator(BufferSizeOption(16), LoggerOption(logger.Nop()))
	defer a.Close()

	a.Record("r-game", 1200)
	a.Record("r-game", 300)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := a.Snapshot()
		if got := snap["r-game"]; got.Matches == 2 && got.Bytes == 1500 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("counters never converged: %+v", a.Snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
