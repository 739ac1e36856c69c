package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// timeoutChannelSize is the buffer size for timeout channels.
const timeoutChannelSize = 100

// TimeoutInfo identifies the round a timeout was armed for, so a late
// delivery for an already advanced round can be discarded by the caller.
type TimeoutInfo struct {
	Duration time.Duration
	Height   uint64
	Round    uint32
}

// TimeoutTicker delivers round deadline events to the node's run loop.
// Scheduling a new timeout cancels the previous one; only one deadline is
// armed at a time.
type TimeoutTicker struct {
	mu     sync.Mutex
	config Config

	timer   *time.Timer
	tickCh  chan TimeoutInfo
	tockCh  chan TimeoutInfo
	stopCh  chan struct{}
	running bool

	droppedTimeouts uint64
}

// NewTimeoutTicker creates a ticker using the engine config's round
// timeouts.
func NewTimeoutTicker(config Config) *TimeoutTicker {
	return &TimeoutTicker{
		config: config,
		tickCh: make(chan TimeoutInfo, timeoutChannelSize),
		tockCh: make(chan TimeoutInfo, timeoutChannelSize),
		stopCh: make(chan struct{}),
	}
}

// Start starts the ticker's scheduling loop.
func (tt *TimeoutTicker) Start() {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if tt.running {
		return
	}
	tt.running = true

	go tt.run()
}

// Stop stops the ticker and cancels any armed deadline.
func (tt *TimeoutTicker) Stop() {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if !tt.running {
		return
	}
	tt.running = false

	close(tt.stopCh)
	if tt.timer != nil {
		tt.timer.Stop()
	}
}

// Chan returns the channel that delivers timeout events.
func (tt *TimeoutTicker) Chan() <-chan TimeoutInfo {
	return tt.tockCh
}

// ScheduleTimeout arms the deadline for the given height and round,
// replacing any previously armed deadline.
func (tt *TimeoutTicker) ScheduleTimeout(ti TimeoutInfo) {
	tt.tickCh <- ti
}

func (tt *TimeoutTicker) run() {
	for {
		select {
		case <-tt.stopCh:
			return

		case ti := <-tt.tickCh:
			tt.mu.Lock()
			if tt.timer != nil {
				tt.timer.Stop()
			}

			if ti.Duration <= 0 {
				ti.Duration = tt.config.timeoutFor(ti.Round)
			}
			tiCopy := ti

			tt.timer = time.AfterFunc(ti.Duration, func() {
				select {
				case tt.tockCh <- tiCopy:
				case <-tt.stopCh:
				default:
					count := atomic.AddUint64(&tt.droppedTimeouts, 1)
					log.Printf("WARN: dropped timeout due to full channel: height=%d round=%d total_dropped=%d",
						tiCopy.Height, tiCopy.Round, count)
				}
			})
			tt.mu.Unlock()
		}
	}
}

// DroppedTimeouts returns the number of timeouts dropped due to a full
// channel.
func (tt *TimeoutTicker) DroppedTimeouts() uint64 {
	return atomic.LoadUint64(&tt.droppedTimeouts)
}
