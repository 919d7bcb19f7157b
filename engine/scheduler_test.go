package engine_test

import (
	"encoding/binary"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/avrsim/emu"
	"github.com/sarchlab/avrsim/engine"
)

var _ = Describe("Scheduler", func() {
	var s *engine.Scheduler

	BeforeEach(func() {
		s = engine.NewScheduler()
	})

	record := func(log *[]uint64) engine.HandlerFunc {
		return func(e sim.Event) error {
			*log = append(*log, engine.CycleOf(e.Time()))
			return nil
		}
	}

	It("should start empty at cycle zero", func() {
		Expect(s.Pending()).To(Equal(0))
		Expect(s.Now()).To(Equal(uint64(0)))
		Expect(s.Tick(100)).To(BeFalse())
		Expect(s.Now()).To(Equal(uint64(100)))
	})

	It("should fire events in time order once due", func() {
		var fired []uint64
		s.ScheduleAt(30, record(&fired))
		s.ScheduleAt(10, record(&fired))
		s.ScheduleAt(20, record(&fired))

		Expect(s.Tick(5)).To(BeFalse())
		Expect(fired).To(BeEmpty())

		Expect(s.Tick(20)).To(BeFalse())
		Expect(fired).To(Equal([]uint64{10, 20}))
		Expect(s.Pending()).To(Equal(1))

		s.Tick(31)
		Expect(fired).To(Equal([]uint64{10, 20, 30}))
	})

	It("should fire an event scheduled in the past on the next tick", func() {
		var fired []uint64
		s.Tick(50)
		s.ScheduleAt(10, record(&fired))

		s.Tick(51)

		Expect(fired).To(Equal([]uint64{10}))
	})

	It("should stop at the requested cycle", func() {
		s.StopAt(10)

		Expect(s.Tick(9)).To(BeFalse())
		Expect(s.Tick(10)).To(BeTrue())
		Expect(s.Tick(11)).To(BeFalse())
		Expect(s.Pending()).To(Equal(0))
	})

	It("should stop once after RequestStop", func() {
		s.RequestStop()

		Expect(s.Tick(1)).To(BeTrue())
		Expect(s.Tick(2)).To(BeFalse())
	})

	It("should stop and keep the first handler error", func() {
		boom := errors.New("boom")
		s.ScheduleAt(5, engine.HandlerFunc(func(sim.Event) error { return boom }))

		Expect(s.Tick(5)).To(BeTrue())
		Expect(s.Err()).To(MatchError(boom))
		Expect(s.Err().Error()).To(ContainSubstring("cycle 5"))
	})

	It("should reject events it does not own", func() {
		evt := sim.NewEventBase(1, s)
		s.Schedule(evt)

		Expect(s.Tick(1)).To(BeTrue())
		Expect(s.Err()).To(HaveOccurred())
	})

	It("should repeat periodic callbacks", func() {
		var seen []uint64
		s.Every(4, func(cycle uint64) { seen = append(seen, cycle) })

		s.Tick(3)
		s.Tick(9)
		s.Tick(12)

		Expect(seen).To(Equal([]uint64{4, 8, 12}))
		Expect(s.Pending()).To(Equal(1))
	})

	It("should panic on a zero period", func() {
		Expect(func() { s.Every(0, func(uint64) {}) }).To(Panic())
	})

	Describe("as an emulator ticker", func() {
		It("should stop a running program at a cycle", func() {
			e := emu.NewEmulator(
				emu.WithHost(emu.NewDefaultHost(nil, nil, nil)),
				emu.WithTicker(s),
			)
			prog := make([]byte, 2)
			binary.LittleEndian.PutUint16(prog, 0xCFFF) // rjmp .-2
			e.LoadProgram(emu.Image{Segments: []emu.Segment{{Data: prog}}})
			s.StopAt(20)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Stopped, Code: emu.SigInt}))
			Expect(e.Cycles()).To(Equal(uint64(20)))
			Expect(s.Now()).To(Equal(uint64(20)))
		})
	})
})
