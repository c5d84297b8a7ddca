package vm

import (
	"bytes"
	"math"
	"os"
)

// ---------------------------------------------------------------------------
// Bytecode assembly
// ---------------------------------------------------------------------------

// asmInstr is one assembled instruction. str is interned into the bundle's
// string region at serialization time for the string-parameter opcodes.
type asmInstr struct {
	op    Opcode
	param uint32
	str   string
}

// Asm assembles a bytecode sequence for conditions and run blocks. Methods
// chain:
//
//	vm.NewAsm().PushInt(1).SetVar("n")
type Asm struct {
	instrs []asmInstr
}

// NewAsm returns an empty bytecode assembler.
func NewAsm() *Asm {
	return &Asm{}
}

// PushBool assembles PUSH_BOOL.
func (a *Asm) PushBool(b bool) *Asm {
	param := uint32(0)
	if b {
		param = 1
	}
	a.instrs = append(a.instrs, asmInstr{op: OpPushBool, param: param})
	return a
}

// PushInt assembles PUSH_INT. The bundle slot is 32-bit; the VM widens to 64.
func (a *Asm) PushInt(v int32) *Asm {
	a.instrs = append(a.instrs, asmInstr{op: OpPushInt, param: uint32(v)})
	return a
}

// PushFloat assembles PUSH_FLOAT.
func (a *Asm) PushFloat(f float32) *Asm {
	a.instrs = append(a.instrs, asmInstr{op: OpPushFloat, param: math.Float32bits(f)})
	return a
}

// PushString assembles PUSH_STRING.
func (a *Asm) PushString(s string) *Asm {
	a.instrs = append(a.instrs, asmInstr{op: OpPushString, str: s})
	return a
}

// GetVar assembles GET_VAR.
func (a *Asm) GetVar(name string) *Asm {
	a.instrs = append(a.instrs, asmInstr{op: OpGetVar, str: name})
	return a
}

// SetVar assembles SET_VAR.
func (a *Asm) SetVar(name string) *Asm {
	a.instrs = append(a.instrs, asmInstr{op: OpSetVar, str: name})
	return a
}

// Op assembles a parameterless instruction (NOT and the binary operators).
func (a *Asm) Op(op Opcode) *Asm {
	a.instrs = append(a.instrs, asmInstr{op: op})
	return a
}

func (a *Asm) len() uint32 {
	if a == nil {
		return 0
	}
	return uint32(len(a.instrs))
}

// ---------------------------------------------------------------------------
// Text construction helpers
// ---------------------------------------------------------------------------

// Literal returns a literal text fragment.
func Literal(text string, markup ...Markup) Fragment {
	return Fragment{Text: text, Markup: markup}
}

// Var returns a variable text fragment; name is substituted by the
// variable's current value at interpolation time.
func Var(name string, markup ...Markup) Fragment {
	return Fragment{Text: name, Markup: markup, IsVar: true}
}

// ---------------------------------------------------------------------------
// BundleBuilder: assembles a dgmlb bundle
// ---------------------------------------------------------------------------

// BundleBuilder assembles a bundle programmatically and serializes it to the
// on-disk format. It backs the package tests and host tooling; the text
// authoring front end that would sit on top of it is a separate concern.
type BundleBuilder struct {
	sections   []*SectionBuilder
	speakerIDs []string
	envVars    []builderEnvVar
	envMarkup  []Markup
}

type builderEnvVar struct {
	name    string
	typ     varType
	slot    uint32 // bit-cast default for bool/int/float
	def     string // default for string vars, interned at serialize time
}

// NewBundleBuilder returns an empty builder.
func NewBundleBuilder() *BundleBuilder {
	return &BundleBuilder{}
}

// AddSpeaker declares a speaker id.
func (b *BundleBuilder) AddSpeaker(id string) {
	b.speakerIDs = append(b.speakerIDs, id)
}

// AddEnvMarkup declares environment markup; value is a regex.
func (b *BundleBuilder) AddEnvMarkup(name, value string) {
	b.envMarkup = append(b.envMarkup, Markup{Name: name, Value: value})
}

// AddBoolVar declares a bool variable with a default.
func (b *BundleBuilder) AddBoolVar(name string, def bool) {
	slot := uint32(0)
	if def {
		slot = 1
	}
	b.envVars = append(b.envVars, builderEnvVar{name: name, typ: varTypeBool, slot: slot})
}

// AddIntVar declares an int variable with a default.
func (b *BundleBuilder) AddIntVar(name string, def int32) {
	b.envVars = append(b.envVars, builderEnvVar{name: name, typ: varTypeInt, slot: uint32(def)})
}

// AddFloatVar declares a float variable with a default.
func (b *BundleBuilder) AddFloatVar(name string, def float32) {
	b.envVars = append(b.envVars, builderEnvVar{name: name, typ: varTypeFloat, slot: math.Float32bits(def)})
}

// AddStringVar declares a string variable with a default.
func (b *BundleBuilder) AddStringVar(name string, def string) {
	b.envVars = append(b.envVars, builderEnvVar{name: name, typ: varTypeString, def: def})
}

// AddSection adds a named section. Nodes are added through the returned
// SectionBuilder; the first node is the entry node unless SetEntry is
// called.
func (b *BundleBuilder) AddSection(name string) *SectionBuilder {
	s := &SectionBuilder{name: name, entry: NodeIndexNone}
	b.sections = append(b.sections, s)
	return s
}

// SectionBuilder accumulates the nodes of one section.
type SectionBuilder struct {
	name  string
	entry uint32
	nodes []builderNode
}

// OptionSpec describes one option of a choice node. A nil Cond means always
// enabled.
type OptionSpec struct {
	Text   []Fragment
	Cond   *Asm
	LineID string
	Dest   uint32
}

// builderNode mirrors the on-disk record: one struct for all variants, only
// the fields of the tagged variant populated.
type builderNode struct {
	id        string
	tags      []string
	typ       NodeType
	speaker   string
	text      []Fragment
	code      *Asm
	options   []OptionSpec
	randNodes []uint32
	next      uint32
	trueDest  uint32
	falseDest uint32
}

// SetEntry sets the section's entry node index.
func (s *SectionBuilder) SetEntry(idx uint32) {
	s.entry = idx
}

// SetTags sets the tags of the node at idx.
func (s *SectionBuilder) SetTags(idx uint32, tags ...string) {
	s.nodes[idx].tags = tags
}

func (s *SectionBuilder) add(n builderNode) uint32 {
	idx := uint32(len(s.nodes))
	s.nodes = append(s.nodes, n)
	if s.entry == NodeIndexNone {
		s.entry = idx
	}
	return idx
}

// Say adds a say node and returns its index.
func (s *SectionBuilder) Say(id, speaker string, next uint32, text ...Fragment) uint32 {
	return s.add(builderNode{id: id, typ: NodeTypeSay, speaker: speaker, text: text, next: next})
}

// Choice adds a choice node and returns its index.
func (s *SectionBuilder) Choice(id string, options ...OptionSpec) uint32 {
	return s.add(builderNode{id: id, typ: NodeTypeChoice, options: options})
}

// Goto adds a goto node and returns its index.
func (s *SectionBuilder) Goto(id string, next uint32) uint32 {
	return s.add(builderNode{id: id, typ: NodeTypeGoto, next: next})
}

// If adds an if node and returns its index.
func (s *SectionBuilder) If(id string, cond *Asm, trueDest, falseDest uint32) uint32 {
	return s.add(builderNode{id: id, typ: NodeTypeIf, code: cond, trueDest: trueDest, falseDest: falseDest})
}

// Rand adds a rand node and returns its index.
func (s *SectionBuilder) Rand(id string, targets ...uint32) uint32 {
	return s.add(builderNode{id: id, typ: NodeTypeRand, randNodes: targets})
}

// Run adds a run node and returns its index.
func (s *SectionBuilder) Run(id string, code *Asm, next uint32) uint32 {
	return s.add(builderNode{id: id, typ: NodeTypeRun, code: code, next: next})
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// WriteFile serializes the bundle to path.
func (b *BundleBuilder) WriteFile(path string) error {
	data, err := b.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Bytes serializes the bundle. Layout: header, packed string region, then
// all fixed-size record arrays (4-byte aligned; the only padding needed is
// after the string region).
func (b *BundleBuilder) Bytes() ([]byte, error) {
	w := &bundleBodyWriter{strings: make(map[string]uint32)}

	// Pass 1: intern every string so the region size (and with it every
	// record offset) is known before any record is written.
	for _, s := range b.sections {
		w.collect(s.name)
		for _, n := range s.nodes {
			w.collect(n.id)
			w.collect(n.speaker)
			for _, tag := range n.tags {
				w.collect(tag)
			}
			w.collectText(n.text)
			w.collectAsm(n.code)
			for _, opt := range n.options {
				w.collect(opt.LineID)
				w.collectText(opt.Text)
				w.collectAsm(opt.Cond)
			}
		}
	}
	for _, id := range b.speakerIDs {
		w.collect(id)
	}
	for _, v := range b.envVars {
		w.collect(v.name)
		if v.typ == varTypeString {
			w.collect(v.def)
		}
	}
	for _, m := range b.envMarkup {
		w.collect(m.Name)
		w.collect(m.Value)
	}

	// Pass 2: write the string region, then children before the records
	// that reference them.
	stringsSpan := w.writeStringRegion()

	sectionRecords := make([][4]uint32, len(b.sections))
	for i, s := range b.sections {
		nodes := w.writeSectionNodes(s, uint32(i))
		sectionRecords[i] = [4]uint32{w.intern(s.name), nodes.offset, nodes.count, s.entry}
	}

	sectionsSpan := span{offset: w.off(), count: uint32(len(b.sections))}
	for _, rec := range sectionRecords {
		w.u32(rec[0], rec[1], rec[2], rec[3])
	}

	speakersSpan := span{offset: w.off(), count: uint32(len(b.speakerIDs))}
	for _, id := range b.speakerIDs {
		w.u32(w.intern(id))
	}

	envVarsSpan := span{offset: w.off(), count: uint32(len(b.envVars))}
	for _, v := range b.envVars {
		slot := v.slot
		if v.typ == varTypeString {
			slot = w.intern(v.def)
		}
		w.u32(w.intern(v.name), uint32(v.typ), slot)
	}

	markupSpan := w.writeMarkup(b.envMarkup)

	// Header
	body := w.buf.Bytes()
	data := make([]byte, BundleHeaderSize+len(body))
	copy(data, BundleMagic[:])
	copy(data[BundleHeaderSize:], body)
	WriteUint32(data[headerFileSizeOff:], uint32(len(data)))
	writeSpan := func(off uint32, s span) {
		WriteUint32(data[off:], s.offset)
		WriteUint32(data[off+4:], s.count)
	}
	writeSpan(headerStringsOff, stringsSpan)
	writeSpan(headerSectionsOff, sectionsSpan)
	writeSpan(headerSpeakersOff, speakersSpan)
	writeSpan(headerEnvVarsOff, envVarsSpan)
	writeSpan(headerMarkupOff, markupSpan)
	return data, nil
}

// bundleBodyWriter accumulates everything after the header. File offsets are
// BundleHeaderSize plus the buffer position.
type bundleBodyWriter struct {
	buf     bytes.Buffer
	strings map[string]uint32 // string -> handle; "" maps to 0
	ordered []string
}

func (w *bundleBodyWriter) off() uint32 {
	return BundleHeaderSize + uint32(w.buf.Len())
}

func (w *bundleBodyWriter) u32(vs ...uint32) {
	var tmp [4]byte
	for _, v := range vs {
		WriteUint32(tmp[:], v)
		w.buf.Write(tmp[:])
	}
}

func (w *bundleBodyWriter) collect(s string) {
	if s == "" {
		return
	}
	if _, ok := w.strings[s]; ok {
		return
	}
	w.strings[s] = 1 // offset assigned by writeStringRegion
	w.ordered = append(w.ordered, s)
}

func (w *bundleBodyWriter) collectText(frags []Fragment) {
	for _, f := range frags {
		w.collect(f.Text)
		for _, m := range f.Markup {
			w.collect(m.Name)
			w.collect(m.Value)
		}
	}
}

func (w *bundleBodyWriter) collectAsm(a *Asm) {
	if a == nil {
		return
	}
	for _, instr := range a.instrs {
		w.collect(instr.str)
	}
}

// intern returns the handle of a collected string. "" is handle 0.
func (w *bundleBodyWriter) intern(s string) uint32 {
	if s == "" {
		return 0
	}
	return w.strings[s]
}

// writeStringRegion emits the packed {u32 length; data; NUL} records and
// pads to 4-byte alignment (the padding is not part of the region's count).
func (w *bundleBodyWriter) writeStringRegion() span {
	start := w.off()
	for _, s := range w.ordered {
		w.strings[s] = w.off()
		w.u32(uint32(len(s)))
		w.buf.WriteString(s)
		w.buf.WriteByte(0)
	}
	size := w.off() - start
	for w.buf.Len()%4 != 0 {
		w.buf.WriteByte(0)
	}
	return span{offset: start, count: size}
}

func (w *bundleBodyWriter) writeStroffs(ss []string) span {
	out := span{offset: w.off(), count: uint32(len(ss))}
	for _, s := range ss {
		w.u32(w.intern(s))
	}
	return out
}

func (w *bundleBodyWriter) writeMarkup(markup []Markup) span {
	out := span{offset: w.off(), count: uint32(len(markup))}
	for _, m := range markup {
		w.u32(w.intern(m.Name), w.intern(m.Value))
	}
	return out
}

func (w *bundleBodyWriter) writeText(frags []Fragment) span {
	markupSpans := make([]span, len(frags))
	for i, f := range frags {
		markupSpans[i] = w.writeMarkup(f.Markup)
	}
	out := span{offset: w.off(), count: uint32(len(frags))}
	for i, f := range frags {
		isVar := uint32(0)
		if f.IsVar {
			isVar = 1
		}
		w.u32(w.intern(f.Text), markupSpans[i].offset, markupSpans[i].count, isVar)
	}
	return out
}

func (w *bundleBodyWriter) writeAsm(a *Asm) span {
	out := span{offset: w.off(), count: a.len()}
	if a == nil {
		return out
	}
	for _, instr := range a.instrs {
		param := instr.param
		if instr.str != "" {
			param = w.intern(instr.str)
		}
		w.u32(uint32(instr.op), param)
	}
	return out
}

func (w *bundleBodyWriter) writeSectionNodes(s *SectionBuilder, sectionIdx uint32) span {
	type nodeSpans struct {
		tags, code, options, rand, text span
	}
	children := make([]nodeSpans, len(s.nodes))
	for i := range s.nodes {
		n := &s.nodes[i]
		children[i].tags = w.writeStroffs(n.tags)
		children[i].code = w.writeAsm(n.code)
		children[i].text = w.writeText(n.text)

		optionRecords := make([][6]uint32, len(n.options))
		for o, opt := range n.options {
			cond := w.writeAsm(opt.Cond)
			text := w.writeText(opt.Text)
			optionRecords[o] = [6]uint32{
				cond.offset, cond.count, w.intern(opt.LineID), text.offset, text.count, opt.Dest,
			}
		}
		children[i].options = span{offset: w.off(), count: uint32(len(n.options))}
		for _, rec := range optionRecords {
			w.u32(rec[:]...)
		}

		children[i].rand = span{offset: w.off(), count: uint32(len(n.randNodes))}
		for _, target := range n.randNodes {
			w.u32(target)
		}
	}

	out := span{offset: w.off(), count: uint32(len(s.nodes))}
	for i := range s.nodes {
		n := &s.nodes[i]
		c := &children[i]
		w.u32(
			w.intern(n.id),
			w.intern(n.speaker),
			c.tags.offset, c.tags.count,
			c.code.offset, c.code.count,
			c.options.offset, c.options.count,
			c.rand.offset, c.rand.count,
			c.text.offset, c.text.count,
			sectionIdx,
			n.next,
			n.trueDest,
			n.falseDest,
			uint32(n.typ),
		)
	}
	return out
}
