package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/psylab/psycore/emu"
)

// stubDevice is a word-wide register with a fixed access latency.
type stubDevice struct {
	name    string
	value   uint32
	written uint32
	lat     uint64
}

func (d *stubDevice) Name() string { return d.name }

func (d *stubDevice) Read(addr uint32, size int) ([]byte, uint64) {
	v := d.value
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}, d.lat
}

func (d *stubDevice) Write(addr uint32, data []byte) uint64 {
	var v uint32
	for i := 0; i < len(data) && i < 4; i++ {
		v |= uint32(data[i]) << (8 * i)
	}
	d.written = v
	return d.lat
}

var _ = Describe("Bus", func() {
	var bus *emu.Bus

	BeforeEach(func() {
		bus = emu.NewBus(emu.NewMemory())
	})

	It("should route unmapped addresses to backing memory", func() {
		bus.Write32(0x1000, 0xCAFE)
		v, lat := bus.Read32(0x1000)
		Expect(v).To(Equal(uint32(0xCAFE)))
		Expect(lat).To(BeZero())
		Expect(bus.Memory().Read32(0x1000)).To(Equal(uint32(0xCAFE)))
	})

	It("should dispatch mapped ranges to the device", func() {
		dev := &stubDevice{name: "uart", value: 0x55, lat: 3}
		Expect(bus.Register(0xF000_0000, 0xF000_00FF, dev)).To(Succeed())

		v, lat := bus.Read32(0xF000_0010)
		Expect(v).To(Equal(uint32(0x55)))
		Expect(lat).To(Equal(uint64(3)))

		lat = bus.Write32(0xF000_0010, 0xAB)
		Expect(lat).To(Equal(uint64(3)))
		Expect(dev.written).To(Equal(uint32(0xAB)))

		Expect(bus.IsPeripheral(0xF000_0010)).To(BeTrue())
		Expect(bus.IsPeripheral(0x1000)).To(BeFalse())
	})

	It("should reject overlapping registrations", func() {
		a := &stubDevice{name: "a"}
		b := &stubDevice{name: "b"}
		Expect(bus.Register(0x100, 0x1FF, a)).To(Succeed())

		err := bus.Register(0x180, 0x280, b)
		Expect(err).To(HaveOccurred())

		var conflict *emu.RangeConflictError
		Expect(err).To(BeAssignableToTypeOf(conflict))
		Expect(err.Error()).To(ContainSubstring("overlaps a"))
	})

	It("should allow adjacent non-overlapping ranges", func() {
		a := &stubDevice{name: "a"}
		b := &stubDevice{name: "b"}
		Expect(bus.Register(0x100, 0x1FF, a)).To(Succeed())
		Expect(bus.Register(0x200, 0x2FF, b)).To(Succeed())

		Expect(bus.Lookup(0x1FF)).To(BeIdenticalTo(emu.Peripheral(a)))
		Expect(bus.Lookup(0x200)).To(BeIdenticalTo(emu.Peripheral(b)))
	})

	It("should reject an inverted range", func() {
		dev := &stubDevice{name: "bad"}
		Expect(bus.Register(0x200, 0x100, dev)).ToNot(Succeed())
	})
})
