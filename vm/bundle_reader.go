package vm

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
)

// ---------------------------------------------------------------------------
// Bundle Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic     = errors.New("invalid magic number: expected \\0DGMLB01")
	ErrTruncated        = errors.New("bundle truncated: declared file size exceeds data")
	ErrCorruptHeader    = errors.New("corrupt bundle header")
	ErrCorruptData      = errors.New("corrupt bundle data")
	ErrCorruptStrings   = errors.New("corrupt string region")
	ErrInvalidNodeType  = errors.New("invalid node type")
	ErrInvalidNodeIndex = errors.New("node index out of range")
	ErrEmptyRand        = errors.New("rand node has no targets")
)

// ---------------------------------------------------------------------------
// Spans
// ---------------------------------------------------------------------------

// span is an on-disk (offset, count) pair. count is an element count, not a
// byte count (for the string region the element is a byte).
type span struct {
	offset uint32
	count  uint32
}

// ---------------------------------------------------------------------------
// BundleReader: reads and materializes a dgmlb bundle
// ---------------------------------------------------------------------------

// bundleReader wraps the raw bundle bytes with bounds-checked access. The
// raw bytes are only needed during load; the materialized Tree owns copies
// of everything it keeps.
type bundleReader struct {
	data []byte
}

// check verifies that count records of size recordSize are addressable at
// offset.
func (r *bundleReader) check(offset, count, recordSize uint32) error {
	end := uint64(offset) + uint64(count)*uint64(recordSize)
	if end > uint64(len(r.data)) {
		return fmt.Errorf("%w: span [%d, %d) exceeds %d bytes", ErrCorruptData, offset, end, len(r.data))
	}
	return nil
}

// u32 reads a uint32 at offset. The caller must have checked bounds.
func (r *bundleReader) u32(offset uint32) uint32 {
	return ReadUint32(r.data[offset:])
}

// span reads an on-disk span record (two u32s) at offset.
func (r *bundleReader) span(offset uint32) span {
	return span{offset: r.u32(offset), count: r.u32(offset + 4)}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadBundleFile reads path and materializes the bundle into a Tree.
func LoadBundleFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return LoadBundle(data)
}

// LoadBundle materializes a bundle into an owned Tree. data is not retained:
// strings are copied into the tree and everything else is decoded into owned
// values, so the caller may release data afterwards.
func LoadBundle(data []byte) (*Tree, error) {
	if len(data) < BundleHeaderSize {
		return nil, ErrCorruptHeader
	}
	if !bytes.Equal(data[:8], BundleMagic[:]) {
		return nil, fmt.Errorf("%w: got % x", ErrInvalidMagic, data[:8])
	}

	r := &bundleReader{data: data}
	fileSize := r.u32(headerFileSizeOff)
	if uint64(fileSize) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: header says %d, have %d", ErrTruncated, fileSize, len(data))
	}

	tree := &Tree{sectionIndex: make(map[string]int)}

	if err := tree.loadStrings(r, r.span(headerStringsOff)); err != nil {
		return nil, err
	}
	if err := tree.loadSpeakerIDs(r, r.span(headerSpeakersOff)); err != nil {
		return nil, err
	}
	if err := tree.loadEnvVars(r, r.span(headerEnvVarsOff)); err != nil {
		return nil, err
	}
	if err := tree.loadEnvMarkup(r, r.span(headerMarkupOff)); err != nil {
		return nil, err
	}
	if err := tree.loadSections(r, r.span(headerSectionsOff)); err != nil {
		return nil, err
	}
	return tree, nil
}

// loadStrings copies the packed string region and indexes every record in it
// so that string handles resolve without touching the raw bundle again.
// Records are {u32 length; data[length]; NUL}, packed with no alignment, so
// the length reads here may be unaligned.
func (t *Tree) loadStrings(r *bundleReader, strings span) error {
	if err := r.check(strings.offset, strings.count, 1); err != nil {
		return err
	}
	t.strings = make([]byte, strings.count)
	copy(t.strings, r.data[strings.offset:strings.offset+strings.count])
	t.stringsBase = strings.offset
	t.stringIndex = make(map[uint32]string)

	off := uint32(0)
	for off+4 <= strings.count {
		length := ReadUint32(t.strings[off:])
		end := uint64(off) + 4 + uint64(length) + 1 // NUL included
		if end > uint64(strings.count) {
			return fmt.Errorf("%w: string at %d runs past region", ErrCorruptStrings, t.stringsBase+off)
		}
		t.stringIndex[t.stringsBase+off] = string(t.strings[off+4 : off+4+length])
		off = uint32(end)
	}
	return nil
}

func (t *Tree) loadSpeakerIDs(r *bundleReader, speakers span) error {
	if err := r.check(speakers.offset, speakers.count, 4); err != nil {
		return err
	}
	t.speakerIDs = make([]string, speakers.count)
	for i := range t.speakerIDs {
		t.speakerIDs[i] = t.stringAt(r.u32(speakers.offset + uint32(i)*4))
	}
	return nil
}

func (t *Tree) loadEnvVars(r *bundleReader, vars span) error {
	if err := r.check(vars.offset, vars.count, envVarRecordSize); err != nil {
		return err
	}
	t.envVars = make([]EnvVar, vars.count)
	for i := range t.envVars {
		off := vars.offset + uint32(i)*envVarRecordSize
		name := t.stringAt(r.u32(off))
		defaultValue := r.u32(off + 8)

		var value Value
		switch varType(r.u32(off + 4)) {
		case varTypeBool:
			value = BoolValue(defaultValue != 0)
		case varTypeInt:
			value = IntValue(int64(int32(defaultValue)))
		case varTypeFloat:
			value = FloatValue(math.Float32frombits(defaultValue))
		case varTypeString:
			value = StringValue(t.stringAt(defaultValue))
		default:
			return fmt.Errorf("%w: env var %q has type %d", ErrCorruptData, name, r.u32(off+4))
		}
		t.envVars[i] = EnvVar{Name: name, Value: value}
	}
	return nil
}

func (t *Tree) loadEnvMarkup(r *bundleReader, markup span) error {
	m, err := t.loadMarkup(r, markup)
	if err != nil {
		return err
	}
	t.envMarkup = m
	return nil
}

func (t *Tree) loadMarkup(r *bundleReader, markup span) ([]Markup, error) {
	if markup.count == 0 {
		return nil, nil
	}
	if err := r.check(markup.offset, markup.count, markupRecordSize); err != nil {
		return nil, err
	}
	out := make([]Markup, markup.count)
	for i := range out {
		off := markup.offset + uint32(i)*markupRecordSize
		out[i] = Markup{Name: t.stringAt(r.u32(off)), Value: t.stringAt(r.u32(off + 4))}
	}
	return out, nil
}

func (t *Tree) loadSections(r *bundleReader, sections span) error {
	if err := r.check(sections.offset, sections.count, sectionRecordSize); err != nil {
		return err
	}
	t.sections = make([]Section, sections.count)
	for i := range t.sections {
		off := sections.offset + uint32(i)*sectionRecordSize
		sec := &t.sections[i]
		sec.Name = t.stringAt(r.u32(off))
		sec.EntryNode = r.u32(off + 12)

		nodes := r.span(off + 4)
		if err := r.check(nodes.offset, nodes.count, nodeRecordSize); err != nil {
			return err
		}
		sec.Nodes = make([]Node, nodes.count)
		for n := range sec.Nodes {
			node, err := t.loadNode(r, nodes.offset+uint32(n)*nodeRecordSize)
			if err != nil {
				return err
			}
			sec.Nodes[n] = node
		}

		if err := validateSection(sec); err != nil {
			return fmt.Errorf("section %q: %w", sec.Name, err)
		}
		t.sectionIndex[sec.Name] = i
	}
	return nil
}

// loadNode decodes one fixed-size node record into the variant matching its
// type tag. Record layout (byte offsets):
//
//	0 id, 4 speakerID, 8 tags span, 16 code span, 24 options span,
//	32 rand span, 40 text span, 48 sectionIdx, 52 next, 56 trueDest,
//	60 falseDest, 64 type
func (t *Tree) loadNode(r *bundleReader, off uint32) (Node, error) {
	info := nodeInfo{ID: t.stringAt(r.u32(off))}

	tags := r.span(off + 8)
	if tags.count > 0 {
		if err := r.check(tags.offset, tags.count, 4); err != nil {
			return nil, err
		}
		info.Tags = make([]string, tags.count)
		for i := range info.Tags {
			info.Tags[i] = t.stringAt(r.u32(tags.offset + uint32(i)*4))
		}
	}

	next := r.u32(off + 52)
	switch NodeType(r.u32(off + 64)) {
	case NodeTypeSay:
		text, err := t.loadText(r, r.span(off+40))
		if err != nil {
			return nil, err
		}
		return &SayNode{
			nodeInfo: info,
			Speaker:  t.stringAt(r.u32(off + 4)),
			Text:     text,
			Next:     next,
		}, nil

	case NodeTypeChoice:
		options := r.span(off + 24)
		if err := r.check(options.offset, options.count, optionRecordSize); err != nil {
			return nil, err
		}
		node := &ChoiceNode{nodeInfo: info}
		if options.count > 0 {
			node.Options = make([]Option, options.count)
			for o := range node.Options {
				opt, err := t.loadOption(r, options.offset+uint32(o)*optionRecordSize)
				if err != nil {
					return nil, err
				}
				node.Options[o] = opt
			}
		}
		return node, nil

	case NodeTypeGoto:
		return &GotoNode{nodeInfo: info, Next: next}, nil

	case NodeTypeIf:
		cond, err := t.loadCode(r, r.span(off+16))
		if err != nil {
			return nil, err
		}
		return &IfNode{
			nodeInfo:  info,
			Cond:      cond,
			TrueDest:  r.u32(off + 56),
			FalseDest: r.u32(off + 60),
		}, nil

	case NodeTypeRand:
		rand := r.span(off + 32)
		if err := r.check(rand.offset, rand.count, 4); err != nil {
			return nil, err
		}
		node := &RandNode{nodeInfo: info, Nodes: make([]uint32, rand.count)}
		for i := range node.Nodes {
			node.Nodes[i] = r.u32(rand.offset + uint32(i)*4)
		}
		return node, nil

	case NodeTypeRun:
		code, err := t.loadCode(r, r.span(off+16))
		if err != nil {
			return nil, err
		}
		return &RunNode{nodeInfo: info, Code: code, Next: next}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidNodeType, r.u32(off+64))
	}
}

func (t *Tree) loadOption(r *bundleReader, off uint32) (Option, error) {
	cond, err := t.loadCode(r, r.span(off))
	if err != nil {
		return Option{}, err
	}
	text, err := t.loadText(r, r.span(off+12))
	if err != nil {
		return Option{}, err
	}
	return Option{
		Text:   text,
		Cond:   cond,
		LineID: t.stringAt(r.u32(off + 8)),
		Dest:   r.u32(off + 20),
	}, nil
}

func (t *Tree) loadText(r *bundleReader, text span) (Text, error) {
	if text.count == 0 {
		return Text{}, nil
	}
	if err := r.check(text.offset, text.count, fragmentRecordSize); err != nil {
		return Text{}, err
	}
	frags := make([]Fragment, text.count)
	for i := range frags {
		off := text.offset + uint32(i)*fragmentRecordSize
		markup, err := t.loadMarkup(r, r.span(off+4))
		if err != nil {
			return Text{}, err
		}
		frags[i] = Fragment{
			Text:   t.stringAt(r.u32(off)),
			Markup: markup,
			IsVar:  r.u32(off+12) != 0,
		}
	}
	return Text{Frags: frags}, nil
}

// loadCode copies a bytecode span verbatim. The instructions are consumed as
// raw (op, param) pairs at eval time.
func (t *Tree) loadCode(r *bundleReader, code span) (Code, error) {
	if code.count == 0 {
		return nil, nil
	}
	if err := r.check(code.offset, code.count, instrRecordSize); err != nil {
		return nil, err
	}
	out := make(Code, code.count)
	for i := range out {
		off := code.offset + uint32(i)*instrRecordSize
		out[i] = Instr{Op: Opcode(r.u32(off)), Param: r.u32(off + 4)}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// validateSection enforces the tree invariants: every destination is
// NodeIndexNone or in range, and rand target sets are non-empty.
func validateSection(sec *Section) error {
	n := uint32(len(sec.Nodes))
	checkDest := func(dest uint32) error {
		if dest != NodeIndexNone && dest >= n {
			return fmt.Errorf("%w: %d of %d", ErrInvalidNodeIndex, dest, n)
		}
		return nil
	}

	for _, node := range sec.Nodes {
		var err error
		switch node := node.(type) {
		case *SayNode:
			err = checkDest(node.Next)
		case *GotoNode:
			err = checkDest(node.Next)
		case *RunNode:
			err = checkDest(node.Next)
		case *IfNode:
			if err = checkDest(node.TrueDest); err == nil {
				err = checkDest(node.FalseDest)
			}
		case *ChoiceNode:
			for _, opt := range node.Options {
				if err = checkDest(opt.Dest); err != nil {
					break
				}
			}
		case *RandNode:
			if len(node.Nodes) == 0 {
				err = ErrEmptyRand
			}
			for _, dest := range node.Nodes {
				if err != nil {
					break
				}
				err = checkDest(dest)
			}
		}
		if err != nil {
			return fmt.Errorf("node %q: %w", node.NodeID(), err)
		}
	}
	return nil
}
