package devices

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Pulse is the fixed-size payload sent on the interrupt queue. It carries
// no data beyond its existence; the core only cares that a pulse arrived.
type Pulse struct{}

// Interruptor is an auxiliary goroutine that periodically emits interrupt
// pulses on a single-producer, single-consumer channel consumed
// non-blockingly by the core loop. It owns a shared atomic open flag: the
// core clears it on HLT to request the goroutine stop, then drains the
// channel.
type Interruptor struct {
	period    time.Duration
	predicate func() bool
	ch        chan Pulse
	open      atomic.Bool
	done      chan struct{}
}

// DefaultClockPeriod is used when the CLI exposes no flag to configure the
// interrupt period; the spec's CLI surface (§6) names none.
const DefaultClockPeriod = 100 * time.Millisecond

// NewInterruptor builds an Interruptor with the given period and a
// predicate evaluated before each pulse is sent (defaulting to "always
// fire" when predicate is nil). The returned channel is the consumer
// endpoint; the caller must poll it non-blockingly.
func NewInterruptor(period time.Duration, predicate func() bool) (*Interruptor, <-chan Pulse) {
	if predicate == nil {
		predicate = func() bool { return true }
	}
	ch := make(chan Pulse, 1)
	i := &Interruptor{
		period:    period,
		predicate: predicate,
		ch:        ch,
		done:      make(chan struct{}),
	}
	i.open.Store(true)
	return i, ch
}

// Start runs the interruptor loop. It returns when Stop is called or the
// open flag is found cleared on a tick. The send is non-blocking and a
// pulse is dropped when the channel is full, matching the original's
// fire-and-forget `ch_send.send(1)`; a consumer that stops polling does
// not end the loop.
func (i *Interruptor) Start() {
	ticker := time.NewTicker(i.period)
	defer ticker.Stop()
	for {
		select {
		case <-i.done:
			return
		case <-ticker.C:
			if !i.open.Load() {
				return
			}
			if !i.predicate() {
				continue
			}
			slog.Debug("clock interruptor fired", "period", i.period)
			select {
			case i.ch <- Pulse{}:
			default:
			}
		}
	}
}

// Stop clears the open flag, closes the done channel (which ends the
// goroutine's loop without waiting for another tick), and drains any
// pending pulse from the channel.
func (i *Interruptor) Stop() {
	i.open.Store(false)
	close(i.done)
	for {
		select {
		case <-i.ch:
		default:
			return
		}
	}
}
