package vm

import (
	"errors"
	"testing"
)

func loadTree(t *testing.T, b *BundleBuilder) *Tree {
	t.Helper()
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error: %v", err)
	}
	tree, err := LoadBundle(data)
	if err != nil {
		t.Fatalf("LoadBundle error: %v", err)
	}
	return tree
}

func fragTexts(frags []TextFragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Text
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Run sets a variable, say interpolates it.
func TestAdvanceRunThenSay(t *testing.T) {
	b := NewBundleBuilder()
	b.AddIntVar("n", 0)
	s := b.AddSection("s")
	s.Run("set", NewAsm().PushInt(1).SetVar("n"), 1)
	s.Say("line", "A", NodeIndexNone, Literal("n="), Var("n"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}

	res := vm.Advance(-1)
	if res.Type != ResultSay {
		t.Fatalf("type = %d (%v), want ResultSay", res.Type, res.Err)
	}
	if res.Say.Speaker != "A" {
		t.Errorf("speaker = %q, want A", res.Say.Speaker)
	}
	if got := fragTexts(res.Say.Text); !equalStrings(got, []string{"n=", "1"}) {
		t.Errorf("fragments = %v, want [n= 1]", got)
	}
	if !equalStrings(res.ChangedVars, []string{"n"}) {
		t.Errorf("changed vars = %v, want [n]", res.ChangedVars)
	}
	if !equalStrings(res.VisitedNodeIDs, []string{"set", "line"}) {
		t.Errorf("visited = %v, want [set line]", res.VisitedNodeIDs)
	}
	if res.NodeID != "line" {
		t.Errorf("node id = %q, want line", res.NodeID)
	}

	if res := vm.Advance(-1); res.Type != ResultEnd {
		t.Errorf("type = %d, want ResultEnd", res.Type)
	}
}

func TestAdvanceIfBranches(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.If("cond", NewAsm().PushBool(true), 1, 2)
	s.Say("yes", "A", NodeIndexNone, Literal("yes"))
	s.Say("no", "A", NodeIndexNone, Literal("no"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultSay || res.Say.Text[0].Text != "yes" {
		t.Errorf("result = %d %v, want Say yes", res.Type, res.Say)
	}
}

// Disabled options are advisory; selecting one still follows its dest.
func TestAdvanceChoiceDisabledSelectable(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Choice("ask",
		OptionSpec{Text: []Fragment{Literal("a")}, Cond: NewAsm().PushBool(false), Dest: 1},
		OptionSpec{Text: []Fragment{Literal("b")}, Dest: 2})
	s.Say("picked-a", "A", NodeIndexNone, Literal("a!"))
	s.Say("picked-b", "A", NodeIndexNone, Literal("b!"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}

	res := vm.Advance(-1)
	if res.Type != ResultChoice {
		t.Fatalf("type = %d (%v), want ResultChoice", res.Type, res.Err)
	}
	opts := res.Choice.Options
	if len(opts) != 2 {
		t.Fatalf("len(options) = %d, want 2", len(opts))
	}
	if opts[0].Enabled {
		t.Error("option 0 enabled, want disabled")
	}
	if !opts[1].Enabled {
		t.Error("option 1 disabled, want enabled")
	}

	res = vm.Advance(0)
	if res.Type != ResultSay || res.NodeID != "picked-a" {
		t.Errorf("result = %d node %q, want Say picked-a", res.Type, res.NodeID)
	}
}

func TestAdvanceDivisionByZero(t *testing.T) {
	b := NewBundleBuilder()
	b.AddIntVar("n", 0)
	s := b.AddSection("s")
	s.Run("boom", NewAsm().PushInt(1).PushInt(0).Op(OpDiv).SetVar("n"), 1)
	s.Say("after", "A", NodeIndexNone, Literal("unreached"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultError || res.Err.Code != ErrorEvalFail {
		t.Fatalf("result = %d/%d, want Error/EvalFail", res.Type, res.Err.Code)
	}
	if res.Err.Message != "division by zero" {
		t.Errorf("message = %q, want division by zero", res.Err.Message)
	}
}

func TestAdvanceGotoLoopHitsMaxIterations(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Goto("spin", 0)

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultError || res.Err.Code != ErrorMaxIterations {
		t.Fatalf("result = %d/%d, want Error/MaxIterations", res.Type, res.Err.Code)
	}
	if len(res.VisitedNodeIDs) != 128 {
		t.Errorf("visited = %d nodes, want 128", len(res.VisitedNodeIDs))
	}
}

func TestAdvanceMaxStepsOne(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Goto("a", 1)
	s.Goto("b", NodeIndexNone)

	vm := NewVM(loadTree(t, b), Params{MaxStepsPerAdvance: 1})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultError || res.Err.Code != ErrorMaxIterations {
		t.Fatalf("result = %d/%d, want Error/MaxIterations", res.Type, res.Err.Code)
	}
	if !equalStrings(res.VisitedNodeIDs, []string{"a"}) {
		t.Errorf("visited = %v, want [a]", res.VisitedNodeIDs)
	}

	// The cursor was left where execution halted; a later advance resumes.
	res = vm.Advance(-1)
	if res.Type != ResultError || res.Err.Code != ErrorMaxIterations {
		t.Fatalf("second advance = %d/%d, want MaxIterations at node b", res.Type, res.Err.Code)
	}
	if !equalStrings(res.VisitedNodeIDs, []string{"b"}) {
		t.Errorf("visited = %v, want [b]", res.VisitedNodeIDs)
	}
	if res := vm.Advance(-1); res.Type != ResultEnd {
		t.Errorf("third advance = %d, want ResultEnd", res.Type)
	}
}

func TestAdvanceScratchReuse(t *testing.T) {
	b := NewBundleBuilder()
	b.AddIntVar("n", 1)
	s := b.AddSection("s")
	s.Say("one", "A", 1, Var("n"))
	s.Run("bump", NewAsm().GetVar("n").PushInt(1).Op(OpAdd).SetVar("n"), 2)
	s.Say("two", "A", NodeIndexNone, Var("n"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}

	first := vm.Advance(-1)
	if first.Type != ResultSay || first.Say.Text[0].Text != "1" {
		t.Fatalf("first = %v", first.Say)
	}
	second := vm.Advance(-1)
	if second.Type != ResultSay || second.Say.Text[0].Text != "2" {
		t.Fatalf("second = %v", second.Say)
	}
	// Both results view the same scratch; after the second advance its
	// content reflects only the latest call.
	if first.Say.Text[0].Text != "2" {
		t.Errorf("stale view = %q, want overwritten to 2", first.Say.Text[0].Text)
	}
}

func TestAdvanceChoiceZeroOptions(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Choice("empty")

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultChoice || len(res.Choice.Options) != 0 {
		t.Errorf("result = %d with %d options, want empty Choice", res.Type, len(res.Choice.Options))
	}
}

func TestAdvanceRandSingleTargetDeterministic(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Rand("pick", 1)
	s.Say("only", "A", NodeIndexNone, Literal("only"))

	vm := NewVM(loadTree(t, b), Params{RNGSeed: 7})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultSay || res.NodeID != "only" {
		t.Errorf("result = %d node %q, want Say only", res.Type, res.NodeID)
	}
}

func TestAdvanceRandUsesInjectedRNG(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Rand("pick", 1, 2)
	s.Say("left", "A", NodeIndexNone, Literal("left"))
	s.Say("right", "A", NodeIndexNone, Literal("right"))

	tree := loadTree(t, b)
	for draw, want := range map[uint64]string{0: "left", 1: "right", 5: "right"} {
		vm := NewVM(tree, Params{RNG: func() uint64 { return draw }})
		if err := vm.Enter("s"); err != nil {
			t.Fatalf("Enter error: %v", err)
		}
		res := vm.Advance(-1)
		if res.Type != ResultSay || res.NodeID != want {
			t.Errorf("draw %d: node = %q, want %q", draw, res.NodeID, want)
		}
	}
}

func TestAdvanceInvalidOption(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Say("line", "A", NodeIndexNone, Literal("hi"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}

	// Previous result was not a choice.
	res := vm.Advance(0)
	if res.Type != ResultError || res.Err.Code != ErrorInvalidOption {
		t.Fatalf("result = %d/%d, want InvalidOption", res.Type, res.Err.Code)
	}
	// Retryable: a plain advance still works.
	if res := vm.Advance(-1); res.Type != ResultSay {
		t.Errorf("retry = %d, want ResultSay", res.Type)
	}
}

func TestAdvanceOptionIndexOutOfRange(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Choice("ask", OptionSpec{Text: []Fragment{Literal("a")}, Dest: NodeIndexNone})

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	if res := vm.Advance(-1); res.Type != ResultChoice {
		t.Fatalf("type = %d, want ResultChoice", res.Type)
	}
	if res := vm.Advance(5); res.Type != ResultError || res.Err.Code != ErrorInvalidOption {
		t.Errorf("result = %d/%d, want InvalidOption", res.Type, res.Err.Code)
	}
	// Still retryable with a valid index.
	if res := vm.Advance(0); res.Type != ResultEnd {
		t.Errorf("valid pick = %d, want ResultEnd", res.Type)
	}
}

func TestAdvanceWithoutEnter(t *testing.T) {
	b := NewBundleBuilder()
	b.AddSection("s").Say("line", "A", NodeIndexNone, Literal("hi"))
	vm := NewVM(loadTree(t, b), Params{})
	if res := vm.Advance(-1); res.Type != ResultError {
		t.Errorf("type = %d, want ResultError", res.Type)
	}
}

func TestAdvanceNonBoolCondition(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.If("cond", NewAsm().PushInt(1), 1, 1)
	s.Say("after", "A", NodeIndexNone, Literal("x"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultError || res.Err.Code != ErrorEvalFail {
		t.Errorf("result = %d/%d, want EvalFail", res.Type, res.Err.Code)
	}
}

func TestAdvanceOptionCondMustBeBool(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Choice("ask", OptionSpec{Text: []Fragment{Literal("a")}, Cond: NewAsm().PushInt(1), Dest: NodeIndexNone})

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultError || res.Err.Code != ErrorEvalFail {
		t.Errorf("result = %d/%d, want EvalFail", res.Type, res.Err.Code)
	}
}

func TestAdvanceInterpBufferExhausted(t *testing.T) {
	b := NewBundleBuilder()
	b.AddIntVar("n", 1234567)
	s := b.AddSection("s")
	s.Say("line", "A", NodeIndexNone, Var("n"))

	vm := NewVM(loadTree(t, b), Params{InterpBufCapacity: 4})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultError || res.Err.Code != ErrorInterpFail {
		t.Errorf("result = %d/%d, want InterpFail", res.Type, res.Err.Code)
	}
}

func TestInterpolationLiteralPassThrough(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Say("line", "A", NodeIndexNone,
		Literal("plain"),
		Literal("marked", Markup{Name: "color", Value: "red"}))

	tree := loadTree(t, b)
	vm := NewVM(tree, Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultSay {
		t.Fatalf("type = %d, want ResultSay", res.Type)
	}

	// Fragments with no variables pass the tree's strings through unchanged
	// and carry the markup forward.
	say := tree.Section("s").Nodes[0].(*SayNode)
	if res.Say.Text[0].Text != say.Text.Frags[0].Text {
		t.Errorf("fragment 0 = %q, want tree original %q", res.Say.Text[0].Text, say.Text.Frags[0].Text)
	}
	m := res.Say.Text[1].Markup
	if len(m) != 1 || m[0].Name != "color" || m[0].Value != "red" {
		t.Errorf("markup = %v", m)
	}
}

func TestInterpolationVariableKinds(t *testing.T) {
	b := NewBundleBuilder()
	b.AddBoolVar("b", true)
	b.AddIntVar("i", -7)
	b.AddFloatVar("f", 2.5)
	b.AddStringVar("s", "str")
	s := b.AddSection("s")
	s.Say("line", "A", NodeIndexNone, Var("b"), Var("i"), Var("f"), Var("s"), Var("missing"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultSay {
		t.Fatalf("type = %d (%v), want ResultSay", res.Type, res.Err)
	}
	want := []string{"true", "-7", "2.5", "str", ""}
	if got := fragTexts(res.Say.Text); !equalStrings(got, want) {
		t.Errorf("fragments = %v, want %v", got, want)
	}
}

func TestTwoVMsShareTreeIndependentEnv(t *testing.T) {
	b := NewBundleBuilder()
	b.AddIntVar("n", 0)
	s := b.AddSection("s")
	s.Run("set", NewAsm().PushInt(9).SetVar("n"), NodeIndexNone)

	tree := loadTree(t, b)
	vm1 := NewVM(tree, Params{})
	vm2 := NewVM(tree, Params{})

	if err := vm1.Enter("s"); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	if res := vm1.Advance(-1); res.Type != ResultEnd {
		t.Fatalf("advance = %d, want ResultEnd", res.Type)
	}

	if v := vm1.EnvValue("n"); v.I != 9 {
		t.Errorf("vm1 n = %v, want 9", v)
	}
	if v := vm2.EnvValue("n"); v.I != 0 {
		t.Errorf("vm2 n = %v, want 0 (untouched)", v)
	}
	if v := tree.EnvVars()[0].Value; v.I != 0 {
		t.Errorf("tree default mutated to %v", v)
	}
}

func TestEnterErrors(t *testing.T) {
	b := NewBundleBuilder()
	s := b.AddSection("s")
	s.Say("line", "A", NodeIndexNone, Literal("hi"))

	vm := NewVM(loadTree(t, b), Params{})
	if err := vm.Enter("nope"); !errors.Is(err, ErrNoSection) {
		t.Errorf("Enter(nope) = %v, want ErrNoSection", err)
	}
	if err := vm.EnterAt("s", "ghost"); !errors.Is(err, ErrNoNode) {
		t.Errorf("EnterAt(s, ghost) = %v, want ErrNoNode", err)
	}
	if err := vm.EnterAt("s", "line"); err != nil {
		t.Errorf("EnterAt(s, line) = %v, want nil", err)
	}
	res := vm.Advance(-1)
	if res.Type != ResultSay || res.NodeID != "line" {
		t.Errorf("result = %d node %q", res.Type, res.NodeID)
	}
}
