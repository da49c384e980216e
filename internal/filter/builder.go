package filter

import (
	"golang.org/x/net/bpf"

	"firestige.xyz/netweaver/internal/packet"
)

// builder emits a straight-line program where every failed check jumps to a
// shared reject instruction at the end.
type builder struct {
	base  uint32
	ins   []bpf.Instruction
	fails []int
}

func newBuilder(link Link) *builder {
	b := &builder{base: link.base()}
	if link == LinkEthernet {
		b.add(bpf.LoadAbsolute{Off: 12, Size: 2})
		b.failUnless(etherTypeV4)
	}
	return b
}

func (b *builder) add(ins ...bpf.Instruction) {
	b.ins = append(b.ins, ins...)
}

// failUnless rejects the packet when A != val.
func (b *builder) failUnless(val uint32) {
	b.fails = append(b.fails, len(b.ins))
	b.add(bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: val})
}

// failIfBits rejects the packet when A & mask != 0.
func (b *builder) failIfBits(mask uint32) {
	b.fails = append(b.fails, len(b.ins))
	b.add(bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: mask})
}

func (b *builder) requireProtocol(proto packet.Protocol) {
	b.add(bpf.LoadAbsolute{Off: b.base + ipOffProto, Size: 1})
	b.failUnless(uint32(proto))
}

func (b *builder) requireWord(off, val uint32) {
	b.add(bpf.LoadAbsolute{Off: b.base + off, Size: 4})
	b.failUnless(val)
}

// requireEither accepts when either the word at offA or at offB, masked,
// equals val.
func (b *builder) requireEither(offA, offB, val, mask uint32) {
	second := []bpf.Instruction{bpf.LoadAbsolute{Off: b.base + offB, Size: 4}}
	first := []bpf.Instruction{bpf.LoadAbsolute{Off: b.base + offA, Size: 4}}
	if mask != 0xFFFFFFFF {
		and := bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask}
		first = append(first, and)
		second = append(second, and)
	}
	b.add(first...)
	// Skip the second load(s) and its check when the first word matches.
	b.add(bpf.JumpIf{Cond: bpf.JumpEqual, Val: val, SkipTrue: uint8(len(second) + 1)})
	b.add(second...)
	b.failUnless(val)
}

func (b *builder) requireTCPOrUDP() {
	b.add(bpf.LoadAbsolute{Off: b.base + ipOffProto, Size: 1})
	b.add(bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipTrue: 1})
	b.failUnless(17)
}

// loadTransportOffset rejects non-first fragments and leaves the IP header
// length in X, so LoadIndirect{Off: base+n} reads transport byte n.
func (b *builder) loadTransportOffset() {
	b.add(bpf.LoadAbsolute{Off: b.base + ipOffFlags, Size: 2})
	b.failIfBits(fragMask)
	b.add(bpf.LoadMemShift{Off: b.base})
}

func (b *builder) requireTransportHalf(off uint32, val uint16) {
	b.add(bpf.LoadIndirect{Off: b.base + off, Size: 2})
	b.failUnless(uint32(val))
}

func (b *builder) requireEitherPort(port uint16) {
	b.add(bpf.LoadIndirect{Off: b.base, Size: 2})
	b.add(bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipTrue: 2})
	b.requireTransportHalf(2, port)
}

// finish appends accept and reject and points every failed check at reject.
func (b *builder) finish() []bpf.Instruction {
	b.add(bpf.RetConstant{Val: acceptLen}, bpf.RetConstant{Val: 0})
	reject := len(b.ins) - 1
	for _, i := range b.fails {
		j := b.ins[i].(bpf.JumpIf)
		j.SkipTrue = uint8(reject - i - 1)
		b.ins[i] = j
	}
	return b.ins
}
