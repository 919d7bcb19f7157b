// Package engine drives akita events alongside a functional emulator.
//
// Virtual time is measured in CPU cycles: an event scheduled at cycle n has
// Time() == sim.VTimeInSec(n). The Scheduler is an emu.Ticker, so the
// emulator hands it the cycle counter after every retired instruction and
// the Scheduler fires whatever has come due.
package engine

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sirupsen/logrus"
)

// HandlerFunc adapts a function to sim.Handler.
type HandlerFunc func(e sim.Event) error

// Handle calls f(e).
func (f HandlerFunc) Handle(e sim.Event) error {
	return f(e)
}

// StopEvent ends the run when it fires.
type StopEvent struct {
	*sim.EventBase
}

// Scheduler owns an akita event queue keyed by cycle.
type Scheduler struct {
	queue  sim.EventQueue
	now    uint64
	stop   atomic.Bool
	err    error
	logger logrus.FieldLogger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler creates an empty scheduler at cycle 0.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{queue: sim.NewEventQueue()}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.logger = l
	}

	return s
}

// Now returns the cycle of the last Tick.
func (s *Scheduler) Now() uint64 {
	return s.now
}

// CycleOf converts an event time back to a cycle number.
func CycleOf(t sim.VTimeInSec) uint64 {
	return uint64(t)
}

// Schedule queues an event. Events due at or before the current cycle fire
// on the next Tick.
func (s *Scheduler) Schedule(evt sim.Event) {
	s.queue.Push(evt)
}

// ScheduleAt queues handler to run at cycle and returns the event.
func (s *Scheduler) ScheduleAt(cycle uint64, handler sim.Handler) sim.Event {
	evt := sim.NewEventBase(sim.VTimeInSec(cycle), handler)
	s.Schedule(evt)

	return evt
}

// StopAt schedules a StopEvent at cycle.
func (s *Scheduler) StopAt(cycle uint64) {
	s.Schedule(StopEvent{EventBase: sim.NewEventBase(sim.VTimeInSec(cycle), s)})
}

// Every runs fn at each multiple of period, starting at period.
func (s *Scheduler) Every(period uint64, fn func(cycle uint64)) {
	if period == 0 {
		panic("engine: zero period")
	}

	var handler HandlerFunc
	handler = func(e sim.Event) error {
		cycle := CycleOf(e.Time())
		fn(cycle)
		s.ScheduleAt(cycle+period, handler)

		return nil
	}

	s.ScheduleAt(period, handler)
}

// Handle handles the events the scheduler addresses to itself.
func (s *Scheduler) Handle(e sim.Event) error {
	switch e.(type) {
	case StopEvent:
		s.logger.WithField("cycle", CycleOf(e.Time())).Debug("stop event")
		s.RequestStop()
	default:
		return fmt.Errorf("scheduler cannot handle %T", e)
	}

	return nil
}

// RequestStop makes the next Tick return true. It is safe to call from any
// goroutine.
func (s *Scheduler) RequestStop() {
	s.stop.Store(true)
}

// Pending returns the number of queued events.
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Err returns the first handler error seen.
func (s *Scheduler) Err() error {
	return s.err
}

// Tick advances to cycles, fires every event due by then in time order and
// reports whether the run should stop. A handler error stops the run and is
// kept for Err.
func (s *Scheduler) Tick(cycles uint64) bool {
	s.now = cycles

	for s.queue.Len() > 0 && CycleOf(s.queue.Peek().Time()) <= cycles {
		evt := s.queue.Pop()

		if err := evt.Handler().Handle(evt); err != nil {
			err = fmt.Errorf("event at cycle %d: %w", CycleOf(evt.Time()), err)
			s.logger.WithError(err).Warn("event handler failed")

			if s.err == nil {
				s.err = err
			}

			return true
		}
	}

	return s.stop.Swap(false)
}
