package vm

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// VM creation
// ---------------------------------------------------------------------------

var (
	ErrNoSection = errors.New("no such section")
	ErrNoNode    = errors.New("no node with that id")
)

// Params configures a VM. Zero fields take their defaults.
type Params struct {
	// InterpBufCapacity bounds the bytes of numeric text formatted per
	// advance. Default 1024.
	InterpBufCapacity int
	// EnvVarStringCapacity bounds each string variable's payload.
	// Default 128.
	EnvVarStringCapacity int
	// BytecodeStackSize bounds the evaluator's value stack. Default 64.
	BytecodeStackSize int
	// MaxStepsPerAdvance bounds the nodes visited by one advance.
	// Default 128.
	MaxStepsPerAdvance int
	// RNG, if non-nil, replaces the built-in SplitMix64 stream.
	RNG func() uint64
	// RNGSeed seeds the built-in stream when RNG is nil. 0 seeds from the
	// wall clock.
	RNGSeed uint64
}

// VM drives dialog over a shared, immutable Tree. All mutable state lives
// here: the environment, the cursor and the scratch buffers backing advance
// results. A VM must not be used from more than one goroutine at a time.
type VM struct {
	tree    *Tree
	envVars []envVar

	// Evaluator state
	stack     []Value
	stackSize int

	// Per-advance scratch. Result payloads point into these; they are
	// overwritten by the next call to Advance.
	interpBuf    []byte
	interpOff    int
	textFrags    []TextFragment
	textFragsOff int
	optionsBuf   []ChoiceOption
	changedVars  []string
	traceBuf     []string

	rng      func() uint64
	rngState uint64
	maxSteps int

	curSection *Section
	curNode    uint32
}

// NewVM creates a VM bound to tree. The tree's env vars are copied in, and
// every scratch buffer is allocated once, sized from params and from the
// worst-case say/choice fragment counts of the tree.
func NewVM(tree *Tree, params Params) *VM {
	vm := &VM{tree: tree, curNode: NodeIndexNone}

	interpCap := params.InterpBufCapacity
	if interpCap == 0 {
		interpCap = 1024
	}
	strCap := params.EnvVarStringCapacity
	if strCap == 0 {
		strCap = 128
	}
	stackSize := params.BytecodeStackSize
	if stackSize == 0 {
		stackSize = 64
	}
	vm.maxSteps = params.MaxStepsPerAdvance
	if vm.maxSteps == 0 {
		vm.maxSteps = 128
	}

	vm.envVars = make([]envVar, len(tree.envVars))
	for i, v := range tree.envVars {
		vm.envVars[i] = envVar{name: v.Name, value: v.Value, strCap: strCap}
	}

	vm.stack = make([]Value, stackSize)
	vm.interpBuf = make([]byte, interpCap)
	vm.changedVars = make([]string, 0, len(tree.envVars))
	vm.traceBuf = make([]string, vm.maxSteps)

	// Size the fragments and options scratch to the worst case of the bound
	// tree: the largest say fragment count or per-choice fragment sum.
	maxOptions, maxFrags := 0, 0
	for s := range tree.sections {
		for _, node := range tree.sections[s].Nodes {
			switch node := node.(type) {
			case *SayNode:
				maxFrags = max(maxFrags, len(node.Text.Frags))
			case *ChoiceNode:
				numFrags := 0
				for _, opt := range node.Options {
					numFrags += len(opt.Text.Frags)
				}
				maxOptions = max(maxOptions, len(node.Options))
				maxFrags = max(maxFrags, numFrags)
			}
		}
	}
	vm.optionsBuf = make([]ChoiceOption, maxOptions)
	vm.textFrags = make([]TextFragment, maxFrags)

	if params.RNG != nil {
		vm.rng = params.RNG
	} else {
		vm.rngState = params.RNGSeed
		if vm.rngState == 0 {
			vm.rngState = uint64(time.Now().UnixNano())
		}
		vm.rng = vm.splitmix64
	}
	return vm
}

// Tree returns the tree this VM is bound to.
func (vm *VM) Tree() *Tree {
	return vm.tree
}

// ---------------------------------------------------------------------------
// Cursor
// ---------------------------------------------------------------------------

// Enter positions the cursor at the entry node of the named section.
func (vm *VM) Enter(section string) error {
	sec := vm.tree.Section(section)
	if sec == nil {
		return fmt.Errorf("%w: %q", ErrNoSection, section)
	}
	vm.curSection = sec
	vm.curNode = sec.EntryNode
	return nil
}

// EnterAt positions the cursor at the node with the given id in the named
// section.
func (vm *VM) EnterAt(section, nodeID string) error {
	sec := vm.tree.Section(section)
	if sec == nil {
		return fmt.Errorf("%w: %q", ErrNoSection, section)
	}
	for n := range sec.Nodes {
		if sec.Nodes[n].NodeID() == nodeID {
			vm.curSection = sec
			vm.curNode = uint32(n)
			return nil
		}
	}
	return fmt.Errorf("%w: %q in section %q", ErrNoNode, nodeID, section)
}

// ---------------------------------------------------------------------------
// Advance results
// ---------------------------------------------------------------------------

// ResultType tags an advance Result.
type ResultType uint32

const (
	ResultEnd ResultType = iota
	ResultSay
	ResultChoice
	ResultError
)

// ErrorCode classifies an advance error.
type ErrorCode uint32

const (
	ErrorNone ErrorCode = iota
	// ErrorInvalidOption: the option index was out of range or the previous
	// result was not a choice. Retry with a valid index.
	ErrorInvalidOption
	// ErrorMaxIterations: the step budget was exhausted. The cursor is left
	// where execution halted.
	ErrorMaxIterations
	// ErrorInterpFail: the interpolation or fragments scratch is too small.
	ErrorInterpFail
	// ErrorEvalFail: bytecode evaluation failed (type mismatch, missing
	// operand, stack overflow, division by zero, non-boolean condition).
	ErrorEvalFail
)

// AdvanceError describes why an advance returned ResultError.
type AdvanceError struct {
	Code    ErrorCode
	Message string
}

func (e *AdvanceError) Error() string {
	return e.Message
}

// TextFragment is one interpolated fragment of a say line or option label.
type TextFragment struct {
	Text   string
	Markup []Markup
}

// SayResult is the payload of a ResultSay.
type SayResult struct {
	Speaker string
	Text    []TextFragment
}

// ChoiceOption is one presented option. Enabled reflects the option's
// condition. It is advisory: a disabled option is still selectable.
type ChoiceOption struct {
	Text    []TextFragment
	Enabled bool
}

// ChoiceResult is the payload of a ResultChoice.
type ChoiceResult struct {
	Options []ChoiceOption
}

// Result is what one Advance call yields. NodeID and Tags describe the node
// the walk stopped at. Say, Choice and the trace slices reference VM-owned
// scratch that the next Advance on the same VM overwrites.
type Result struct {
	Type           ResultType
	NodeID         string
	Tags           []string
	VisitedNodeIDs []string
	ChangedVars    []string
	Say            SayResult
	Choice         ChoiceResult
	Err            AdvanceError
}

// ---------------------------------------------------------------------------
// Advance
// ---------------------------------------------------------------------------

// Advance walks the graph from the cursor: internal nodes (goto, if, rand,
// run) are executed in place, and the walk stops at the first interactive
// node (say, choice), at a terminate sentinel (ResultEnd), or on error.
//
// optionIndex selects an option when the previous result was a choice; pass
// a negative value otherwise. Selecting a disabled option is allowed.
func (vm *VM) Advance(optionIndex int) Result {
	res := Result{}

	fail := func(code ErrorCode, message string) Result {
		res.Type = ResultError
		res.Err = AdvanceError{Code: code, Message: message}
		res.ChangedVars = vm.changedVars
		return res
	}

	if vm.curSection == nil {
		return fail(ErrorInvalidOption, "no section entered")
	}

	if optionIndex >= 0 {
		if vm.curNode >= uint32(len(vm.curSection.Nodes)) {
			return fail(ErrorInvalidOption, "invalid option")
		}
		choice, ok := vm.curSection.Nodes[vm.curNode].(*ChoiceNode)
		if !ok || optionIndex >= len(choice.Options) {
			return fail(ErrorInvalidOption, "invalid option")
		}
		// A disabled option is still selectable. It's your dialog!
		vm.curNode = choice.Options[optionIndex].Dest
	}

	vm.interpOff = 0
	vm.textFragsOff = 0
	vm.changedVars = vm.changedVars[:0]

	visited := 0
	for vm.curNode < uint32(len(vm.curSection.Nodes)) {
		node := vm.curSection.Nodes[vm.curNode]
		vm.traceBuf[visited] = node.NodeID()
		visited++
		res.NodeID = node.NodeID()
		res.Tags = node.NodeTags()
		res.VisitedNodeIDs = vm.traceBuf[:visited]
		res.ChangedVars = vm.changedVars

		switch node := node.(type) {
		// Interactive nodes
		case *SayNode:
			vm.curNode = node.Next
			frags, ok := vm.interpolateText(node.Text)
			if !ok {
				return fail(ErrorInterpFail, "interpolation failed")
			}
			res.Type = ResultSay
			res.Say = SayResult{Speaker: node.Speaker, Text: frags}
			res.ChangedVars = vm.changedVars
			return res

		case *ChoiceNode:
			for o := range node.Options {
				opt := &node.Options[o]
				cond, err := vm.eval(opt.Cond)
				if err != nil {
					return fail(err.Code, err.Message)
				}
				if len(opt.Cond) > 0 && cond.Kind != KindBool {
					return fail(ErrorEvalFail, "condition type must be bool")
				}
				frags, ok := vm.interpolateText(opt.Text)
				if !ok {
					return fail(ErrorInterpFail, "interpolation failed")
				}
				vm.optionsBuf[o] = ChoiceOption{
					Text:    frags,
					Enabled: len(opt.Cond) == 0 || cond.B,
				}
			}
			res.Type = ResultChoice
			res.Choice = ChoiceResult{Options: vm.optionsBuf[:len(node.Options)]}
			res.ChangedVars = vm.changedVars
			return res

		// Internal nodes
		case *GotoNode:
			vm.curNode = node.Next

		case *IfNode:
			cond, err := vm.eval(node.Cond)
			if err != nil {
				return fail(err.Code, err.Message)
			}
			if cond.Kind != KindBool {
				return fail(ErrorEvalFail, "condition type must be bool")
			}
			if cond.B {
				vm.curNode = node.TrueDest
			} else {
				vm.curNode = node.FalseDest
			}

		case *RandNode:
			idx := vm.rng() % uint64(len(node.Nodes))
			vm.curNode = node.Nodes[idx]

		case *RunNode:
			// Result, if any, is discarded.
			if _, err := vm.eval(node.Code); err != nil {
				return fail(err.Code, err.Message)
			}
			vm.curNode = node.Next
		}

		if visited >= vm.maxSteps {
			return fail(ErrorMaxIterations, "exceeded max iterations")
		}
	}

	res.Type = ResultEnd
	res.ChangedVars = vm.changedVars
	return res
}
