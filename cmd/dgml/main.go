// dgml CLI - host tooling for compiled dialog bundles
package main

import (
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("dgml")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: dgml <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  play     Play a dialog bundle interactively\n")
	fmt.Fprintf(os.Stderr, "  inspect  Dump a bundle's structure\n")
	fmt.Fprintf(os.Stderr, "  vars     List a bundle's environment variables\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  dgml play -bundle game.dgmlb -section intro\n")
	fmt.Fprintf(os.Stderr, "  dgml play                    # paths and defaults from dgml.toml\n")
	fmt.Fprintf(os.Stderr, "  dgml inspect -bundle game.dgmlb\n")
	fmt.Fprintf(os.Stderr, "  dgml vars -bundle game.dgmlb -store saves.db -slot slot1\n")
}

func main() {
	commonlog.Configure(1, nil)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "play":
		handlePlayCommand(os.Args[2:])
	case "inspect":
		handleInspectCommand(os.Args[2:])
	case "vars":
		handleVarsCommand(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
