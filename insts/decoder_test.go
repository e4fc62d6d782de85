package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vsynth/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	It("should decode a labelled instruction", func() {
		l := decoder.DecodeLine("test_1: vwadd.vv v8, v2, v4, v0.t  # under test")

		Expect(l.Kind).To(Equal(insts.LineInstruction))
		Expect(l.Label).To(Equal("test_1"))
		Expect(l.Mnemonic).To(Equal("vwadd.vv"))
		Expect(l.Args).To(Equal([]string{"v8", "v2", "v4", "v0.t"}))
		Expect(l.Comment).To(Equal("under test"))
	})

	It("should keep memory operands whole", func() {
		l := decoder.DecodeLine("\tld t4, 8(t2)")
		Expect(l.Args).To(Equal([]string{"t4", "8(t2)"}))

		l = decoder.DecodeLine("vlse32.v v4, (a0), a1")
		Expect(l.Args).To(Equal([]string{"v4", "(a0)", "a1"}))
	})

	It("should decode tab-separated mnemonics", func() {
		l := decoder.DecodeLine("\tvsetvli\tt0, x0, e64, m1, ta, ma")
		Expect(l.Mnemonic).To(Equal("vsetvli"))
		Expect(l.Args).To(Equal([]string{"t0", "x0", "e64", "m1", "ta", "ma"}))
	})

	It("should recognise labels, directives and comments", func() {
		Expect(decoder.DecodeLine("page_0:").Kind).To(Equal(insts.LineLabel))

		d := decoder.DecodeLine(".dword 0x1, 0x2")
		Expect(d.Kind).To(Equal(insts.LineDirective))
		Expect(d.Mnemonic).To(Equal(".dword"))
		Expect(d.Args).To(HaveLen(2))

		c := decoder.DecodeLine("#page_map(name=page_0, linear=0x80100000)")
		Expect(c.Kind).To(Equal(insts.LineEmpty))
		Expect(c.Comment).To(HavePrefix("page_map"))
	})

	It("should split a program into lines", func() {
		lines := decoder.Decode("a:\n  j a\n")
		Expect(lines).To(HaveLen(3))
		Expect(lines[1].Mnemonic).To(Equal("j"))
	})
})
