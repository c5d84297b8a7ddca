package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pfirsich/dgml/manifest"
	"github.com/pfirsich/dgml/state"
	"github.com/pfirsich/dgml/vm"
)

// ANSI rendering, mirroring the reference player's markup handling.
const (
	ansiReset     = "\x1b[0m"
	ansiBold      = "\x1b[1m"
	ansiFaint     = "\x1b[2m"
	ansiUnderline = "\x1b[4m"
)

var ansiColors = map[string]string{
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

func renderFragment(frag vm.TextFragment) string {
	var sb strings.Builder
	styled := false
	for _, m := range frag.Markup {
		switch m.Name {
		case "color":
			if code, ok := ansiColors[m.Value]; ok {
				sb.WriteString(code)
				styled = true
			}
		case "bold":
			sb.WriteString(ansiBold)
			styled = true
		}
	}
	sb.WriteString(frag.Text)
	if styled {
		sb.WriteString(ansiReset)
	}
	return sb.String()
}

func renderText(frags []vm.TextFragment) string {
	var sb strings.Builder
	for _, frag := range frags {
		sb.WriteString(renderFragment(frag))
	}
	return sb.String()
}

// playOptions is the shared flag surface of the play/inspect/vars commands,
// with unset values filled from dgml.toml when one is found.
type playOptions struct {
	bundle   string
	section  string
	node     string
	seed     uint64
	maxSteps int
	store    string
	slot     string
}

func parsePlayOptions(fs *flag.FlagSet, args []string) *playOptions {
	opts := &playOptions{}
	fs.StringVar(&opts.bundle, "bundle", "", "Bundle file (default from dgml.toml)")
	fs.StringVar(&opts.section, "section", "", "Section to enter (default from dgml.toml)")
	fs.StringVar(&opts.node, "node", "", "Node id to enter at (default: the section's entry node)")
	fs.Uint64Var(&opts.seed, "seed", 0, "RNG seed (0 seeds from the clock)")
	fs.IntVar(&opts.maxSteps, "max-steps", 0, "Step budget per advance (0 = default)")
	fs.StringVar(&opts.store, "store", "", "SQLite environment store path")
	fs.StringVar(&opts.slot, "slot", "", "Save slot name (default: default)")
	fs.Parse(args)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		log.Warningf("ignoring manifest: %s", err.Error())
	} else if m != nil {
		if opts.bundle == "" {
			opts.bundle = m.BundlePath()
		}
		if opts.section == "" {
			opts.section = m.Play.Section
		}
		if opts.node == "" {
			opts.node = m.Play.Node
		}
		if opts.seed == 0 {
			opts.seed = m.Play.Seed
		}
		if opts.maxSteps == 0 {
			opts.maxSteps = m.Play.MaxSteps
		}
		if opts.store == "" {
			opts.store = m.EnvStorePath()
		}
		if opts.slot == "" {
			opts.slot = m.Env.Slot
		}
	}
	if opts.bundle == "" {
		fatal("no bundle given (use -bundle or a dgml.toml)")
	}
	if opts.section == "" {
		opts.section = "main"
	}
	if opts.slot == "" {
		opts.slot = "default"
	}
	return opts
}

// handlePlayCommand processes the `dgml play` subcommand: an interactive
// terminal player that persists the environment between runs when a store
// is configured.
func handlePlayCommand(args []string) {
	opts := parsePlayOptions(flag.NewFlagSet("play", flag.ExitOnError), args)

	tree, err := vm.LoadBundleFile(opts.bundle)
	if err != nil {
		fatal("loading bundle: %v", err)
	}
	log.Infof("loaded %s: %d sections", opts.bundle, len(tree.Sections()))

	machine := vm.NewVM(tree, vm.Params{
		RNGSeed:            opts.seed,
		MaxStepsPerAdvance: opts.maxSteps,
	})

	var store *state.Store
	if opts.store != "" {
		store, err = state.Open(opts.store)
		if err != nil {
			fatal("opening store: %v", err)
		}
		defer store.Close()

		err = store.Load(opts.slot, machine)
		switch {
		case errors.Is(err, state.ErrSlotNotFound):
			log.Infof("slot %q is new", opts.slot)
		case err != nil:
			fatal("restoring environment: %v", err)
		default:
			log.Infof("restored environment from slot %q", opts.slot)
		}
	}

	enter := func() error {
		if opts.node != "" {
			return machine.EnterAt(opts.section, opts.node)
		}
		return machine.Enter(opts.section)
	}
	if err := enter(); err != nil {
		fatal("%v", err)
	}

	stdin := bufio.NewScanner(os.Stdin)
	res := machine.Advance(-1)
loop:
	for {
		for _, name := range res.ChangedVars {
			fmt.Printf("%s%s# SET %s = %s%s\n", ansiFaint, ansiBold, name, machine.EnvValue(name), ansiReset)
		}

		switch res.Type {
		case vm.ResultSay:
			fmt.Printf("%s: %s\n", res.Say.Speaker, renderText(res.Say.Text))
			res = machine.Advance(-1)

		case vm.ResultChoice:
			anyEnabled := false
			for i, opt := range res.Choice.Options {
				num := strconv.Itoa(i + 1)
				if opt.Enabled {
					anyEnabled = true
				} else {
					num = ansiFaint + "X"
				}
				fmt.Printf("%s. %s%s\n", num, renderText(opt.Text), ansiReset)
			}
			if !anyEnabled {
				fatal("no selectable options")
			}
			pick := promptAnswer(stdin, res.Choice.Options)
			fmt.Println()
			res = machine.Advance(pick)

		case vm.ResultEnd:
			break loop

		case vm.ResultError:
			fatal("advance: %s", res.Err.Message)
		}
	}

	if store != nil {
		if err := store.Save(opts.slot, machine); err != nil {
			fatal("saving environment: %v", err)
		}
		log.Infof("saved environment to slot %q", opts.slot)
	}
}

// promptAnswer reads a 1-based option number until the input names an
// enabled option, then returns its 0-based index.
func promptAnswer(stdin *bufio.Scanner, options []vm.ChoiceOption) int {
	for {
		fmt.Print("Answer: ")
		if !stdin.Scan() {
			fatal("stdin closed")
		}
		i, err := strconv.Atoi(strings.TrimSpace(stdin.Text()))
		if err != nil {
			fmt.Println("Input must be a number")
			continue
		}
		if i < 1 || i > len(options) || !options[i-1].Enabled {
			fmt.Println("Not a valid option")
			continue
		}
		return i - 1
	}
}
