package isa_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/psylab/psycore/isa"
)

func nopEntry(op isa.Opcode, mnemonic string) isa.Entry {
	return isa.Entry{
		Opcode:   op,
		Mnemonic: mnemonic,
		Format:   isa.FormatNone,
		Costs:    isa.UniformCosts(1),
		Exec:     func(isa.ExecInput) isa.ExecOutput { return isa.ExecOutput{} },
	}
}

var _ = Describe("Table", func() {
	It("should build the default table", func() {
		table := isa.DefaultTable()
		Expect(table.LookupMnemonic("ADD")).ToNot(BeNil())
		Expect(table.LookupMnemonic("HALT")).ToNot(BeNil())
		Expect(table.Lookup(isa.OpNOP)).ToNot(BeNil())
	})

	It("should reject two entries with the same opcode", func() {
		_, err := isa.NewTable([]isa.Entry{
			nopEntry(0x01, "ONE"),
			nopEntry(0x01, "TWO"),
		})
		Expect(err).To(HaveOccurred())

		var verr *isa.ValidationError
		Expect(err).To(BeAssignableToTypeOf(verr))
		Expect(err.Error()).To(ContainSubstring("collides with ONE"))
	})

	It("should reject a duplicated mnemonic", func() {
		_, err := isa.NewTable([]isa.Entry{
			nopEntry(0x01, "SAME"),
			nopEntry(0x02, "SAME"),
		})
		Expect(err).To(MatchError(ContainSubstring("duplicate mnemonic")))
	})

	It("should reject an empty mnemonic", func() {
		_, err := isa.NewTable([]isa.Entry{nopEntry(0x01, "")})
		Expect(err).To(HaveOccurred())
	})

	It("should reject a zero stage cost", func() {
		e := nopEntry(0x01, "ZERO")
		e.Costs[isa.StageExecute] = 0
		_, err := isa.NewTable([]isa.Entry{e})
		Expect(err).To(MatchError(ContainSubstring("zero cycle cost")))
	})

	It("should reject an entry with no semantic action", func() {
		e := nopEntry(0x01, "NOEXEC")
		e.Exec = nil
		_, err := isa.NewTable([]isa.Entry{e})
		Expect(err).To(MatchError(ContainSubstring("no semantic action")))
	})

	It("should list entries in ascending opcode order", func() {
		table := isa.MustNewTable([]isa.Entry{
			nopEntry(0x30, "HIGH"),
			nopEntry(0x02, "LOW"),
		})
		entries := table.Entries()
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Mnemonic).To(Equal("LOW"))
		Expect(entries[1].Mnemonic).To(Equal("HIGH"))
	})
})

var _ = Describe("Decoder", func() {
	var (
		table   *isa.Table
		decoder *isa.Decoder
	)

	BeforeEach(func() {
		table = isa.DefaultTable()
		decoder = isa.NewDecoder(table)
	})

	It("should decode a register-format instruction", func() {
		word := isa.Encode(table.LookupMnemonic("ADD"), 3, 1, 2, 0)
		inst, err := decoder.Decode(word)
		Expect(err).ToNot(HaveOccurred())
		Expect(inst.Entry.Mnemonic).To(Equal("ADD"))
		Expect(inst.Rd).To(Equal(uint8(3)))
		Expect(inst.Ra).To(Equal(uint8(1)))
		Expect(inst.Rb).To(Equal(uint8(2)))
	})

	It("should decode an immediate-format instruction", func() {
		word := isa.Encode(table.LookupMnemonic("MOVI"), 5, 0, 0, 0xBEEF)
		inst, err := decoder.Decode(word)
		Expect(err).ToNot(HaveOccurred())
		Expect(inst.Rd).To(Equal(uint8(5)))
		Expect(inst.Imm).To(Equal(uint32(0xBEEF)))
	})

	It("should sign-extend memory displacements", func() {
		word := isa.Encode(table.LookupMnemonic("LD"), 2, 1, 0, 0xFFFC)
		inst, err := decoder.Decode(word)
		Expect(err).ToNot(HaveOccurred())
		Expect(inst.Off).To(Equal(int32(-4)))
	})

	It("should sign-extend branch offsets", func() {
		word := isa.Encode(table.LookupMnemonic("JMP"), 0, 0, 0, 0xFFFE)
		inst, err := decoder.Decode(word)
		Expect(err).ToNot(HaveOccurred())
		Expect(inst.Off).To(Equal(int32(-2)))
	})

	It("should fail on an opcode with no table entry", func() {
		_, err := decoder.Decode(0xEE000000)
		Expect(err).To(HaveOccurred())

		var derr *isa.DecodeError
		Expect(err).To(BeAssignableToTypeOf(derr))
	})

	It("should decode equal words to equal instructions", func() {
		word := isa.Encode(table.LookupMnemonic("ADDI"), 1, 2, 0, 42)
		a, err := decoder.Decode(word)
		Expect(err).ToNot(HaveOccurred())
		b, err := decoder.Decode(word)
		Expect(err).ToNot(HaveOccurred())
		Expect(*a).To(Equal(*b))
	})
})

var _ = Describe("Semantics registry", func() {
	It("should reject registering a mnemonic twice", func() {
		err := isa.RegisterSemantics("ADD", isa.Semantics{
			Format: isa.FormatReg,
			Exec:   func(isa.ExecInput) isa.ExecOutput { return isa.ExecOutput{} },
		})
		Expect(err).To(MatchError(ContainSubstring("already registered")))
	})

	It("should reject semantics without an action", func() {
		err := isa.RegisterSemantics("BROKEN", isa.Semantics{Format: isa.FormatNone})
		Expect(err).To(HaveOccurred())
	})

	It("should serve registered semantics to table configs", func() {
		s, ok := isa.LookupSemantics("LD")
		Expect(ok).To(BeTrue())
		Expect(s.IsLoad).To(BeTrue())
		Expect(s.WritesRd).To(BeTrue())
	})
})
