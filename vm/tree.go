package vm

// ---------------------------------------------------------------------------
// Materialized dialog tree
// ---------------------------------------------------------------------------

// Tree is the owned, materialized form of a loaded bundle. It is immutable
// after load and may be shared by any number of VMs.
type Tree struct {
	sections     []Section
	sectionIndex map[string]int

	envVars    []EnvVar
	speakerIDs []string
	envMarkup  []Markup

	// Copy of the bundle's packed string region, and every record in it
	// indexed by handle (file offset). Bytecode parameters carry string
	// handles that resolve through stringIndex at eval time.
	strings     []byte
	stringsBase uint32
	stringIndex map[uint32]string
}

// Sections returns the tree's sections in bundle order.
func (t *Tree) Sections() []Section {
	return t.sections
}

// Section returns the section with the given name, or nil if there is none.
func (t *Tree) Section(name string) *Section {
	i, ok := t.sectionIndex[name]
	if !ok {
		return nil
	}
	return &t.sections[i]
}

// EnvVars returns the environment variable declarations with their bundle
// default values.
func (t *Tree) EnvVars() []EnvVar {
	return t.envVars
}

// SpeakerIDs returns all speaker ids declared by the bundle.
func (t *Tree) SpeakerIDs() []string {
	return t.speakerIDs
}

// EnvMarkup returns the bundle's environment markup declarations. The value
// of each entry is a regex; interpretation is host-defined.
func (t *Tree) EnvMarkup() []Markup {
	return t.envMarkup
}

// stringAt resolves a string handle (a file offset into the bundle's string
// region). Handle 0 resolves to the empty string.
func (t *Tree) stringAt(handle uint32) string {
	if handle == 0 {
		return ""
	}
	return t.stringIndex[handle]
}

// Section is a named dialog graph: an ordered array of nodes addressed by
// index, plus the index of the node entered by default.
type Section struct {
	Name      string
	Nodes     []Node
	EntryNode uint32
}

// EnvVar is one typed environment variable. In the tree it carries the
// bundle's default value; inside a VM it carries the current value.
type EnvVar struct {
	Name  string
	Value Value
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// Node is a vertex in a section's graph. The concrete type is one of
// SayNode, ChoiceNode, GotoNode, IfNode, RandNode or RunNode.
//
// All destinations are indices into the enclosing section's node array;
// NodeIndexNone means "terminate on reaching".
type Node interface {
	// NodeID returns the node's id string ("" if the node has none).
	NodeID() string
	// NodeTags returns the node's tags.
	NodeTags() []string
	// Type returns the node's type tag.
	Type() NodeType
}

// nodeInfo carries the fields common to all node variants.
type nodeInfo struct {
	ID   string
	Tags []string
}

func (n *nodeInfo) NodeID() string     { return n.ID }
func (n *nodeInfo) NodeTags() []string { return n.Tags }

// SayNode is a line of dialog. Interactive: advance stops here.
type SayNode struct {
	nodeInfo
	Speaker string
	Text    Text
	Next    uint32
}

func (n *SayNode) Type() NodeType { return NodeTypeSay }

// ChoiceNode presents options to the host. Interactive: advance stops here.
type ChoiceNode struct {
	nodeInfo
	Options []Option
}

func (n *ChoiceNode) Type() NodeType { return NodeTypeChoice }

// GotoNode unconditionally transfers to another node.
type GotoNode struct {
	nodeInfo
	Next uint32
}

func (n *GotoNode) Type() NodeType { return NodeTypeGoto }

// IfNode evaluates its condition and branches. The condition must yield a
// boolean.
type IfNode struct {
	nodeInfo
	Cond      Code
	TrueDest  uint32
	FalseDest uint32
}

func (n *IfNode) Type() NodeType { return NodeTypeIf }

// RandNode transfers to one of its targets, drawn uniformly. The target set
// is never empty in a loaded tree.
type RandNode struct {
	nodeInfo
	Nodes []uint32
}

func (n *RandNode) Type() NodeType { return NodeTypeRand }

// RunNode evaluates its code for effect; any result is discarded.
type RunNode struct {
	nodeInfo
	Code Code
	Next uint32
}

func (n *RunNode) Type() NodeType { return NodeTypeRun }

// Option is one selectable entry of a choice node. An empty Cond means the
// option is always enabled; a non-empty Cond must evaluate to a boolean.
// LineID is the author-assigned line identifier, carried for host
// localization tooling.
type Option struct {
	Text   Text
	Cond   Code
	LineID string
	Dest   uint32
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

// Text is an ordered fragment sequence.
type Text struct {
	Frags []Fragment
}

// Fragment is one element of a text. If IsVar is set, Text holds a variable
// name and the VM substitutes the variable's current value at interpolation
// time; otherwise Text is a literal.
type Fragment struct {
	Text   string
	Markup []Markup
	IsVar  bool
}

// Markup is an ordered (name, value) pair attached to a fragment.
// Interpretation is host-defined.
type Markup struct {
	Name  string
	Value string
}
