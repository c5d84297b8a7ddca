package main

import (
	"flag"
	"fmt"

	"github.com/pfirsich/dgml/state"
	"github.com/pfirsich/dgml/vm"
)

// handleInspectCommand processes the `dgml inspect` subcommand: a read-only
// dump of a bundle's structure.
func handleInspectCommand(args []string) {
	opts := parsePlayOptions(flag.NewFlagSet("inspect", flag.ExitOnError), args)

	tree, err := vm.LoadBundleFile(opts.bundle)
	if err != nil {
		fatal("loading bundle: %v", err)
	}

	fmt.Printf("bundle: %s\n", opts.bundle)

	if speakers := tree.SpeakerIDs(); len(speakers) > 0 {
		fmt.Println("\nspeakers:")
		for _, id := range speakers {
			fmt.Printf("  %s\n", id)
		}
	}

	if envVars := tree.EnvVars(); len(envVars) > 0 {
		fmt.Println("\nenv vars:")
		for _, v := range envVars {
			fmt.Printf("  %s: %s = %s\n", v.Name, v.Value.Kind, v.Value)
		}
	}

	if markup := tree.EnvMarkup(); len(markup) > 0 {
		fmt.Println("\nenv markup:")
		for _, m := range markup {
			fmt.Printf("  %s = %s\n", m.Name, m.Value)
		}
	}

	fmt.Println("\nsections:")
	for i := range tree.Sections() {
		sec := &tree.Sections()[i]
		fmt.Printf("  %s (%d nodes, entry %d)\n", sec.Name, len(sec.Nodes), sec.EntryNode)
		for n, node := range sec.Nodes {
			desc := describeNode(node)
			if id := node.NodeID(); id != "" {
				desc = fmt.Sprintf("%s @%s", desc, id)
			}
			if tags := node.NodeTags(); len(tags) > 0 {
				desc = fmt.Sprintf("%s %v", desc, tags)
			}
			fmt.Printf("    %3d: %s\n", n, desc)
		}
	}
}

func describeNode(node vm.Node) string {
	switch node := node.(type) {
	case *vm.SayNode:
		return fmt.Sprintf("say %s (%d frags) -> %s", node.Speaker, len(node.Text.Frags), destString(node.Next))
	case *vm.ChoiceNode:
		return fmt.Sprintf("choice (%d options)", len(node.Options))
	case *vm.GotoNode:
		return fmt.Sprintf("goto -> %s", destString(node.Next))
	case *vm.IfNode:
		return fmt.Sprintf("if (%d instrs) -> %s / %s", len(node.Cond), destString(node.TrueDest), destString(node.FalseDest))
	case *vm.RandNode:
		return fmt.Sprintf("rand %v", node.Nodes)
	case *vm.RunNode:
		return fmt.Sprintf("run (%d instrs) -> %s", len(node.Code), destString(node.Next))
	default:
		return "?"
	}
}

func destString(dest uint32) string {
	if dest == vm.NodeIndexNone {
		return "end"
	}
	return fmt.Sprintf("%d", dest)
}

// handleVarsCommand processes the `dgml vars` subcommand: bundle defaults,
// or the saved values of a slot when a store is given.
func handleVarsCommand(args []string) {
	opts := parsePlayOptions(flag.NewFlagSet("vars", flag.ExitOnError), args)

	tree, err := vm.LoadBundleFile(opts.bundle)
	if err != nil {
		fatal("loading bundle: %v", err)
	}
	machine := vm.NewVM(tree, vm.Params{})

	if opts.store != "" {
		store, err := state.Open(opts.store)
		if err != nil {
			fatal("opening store: %v", err)
		}
		defer store.Close()
		if err := store.Load(opts.slot, machine); err != nil {
			fatal("loading slot: %v", err)
		}
	}

	for _, v := range machine.EnvVars(nil) {
		fmt.Printf("%s: %s = %s\n", v.Name, v.Value.Kind, v.Value)
	}
}
