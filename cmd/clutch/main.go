package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const Version = "0.1.0"

func init() {
	initColorProfile()
}

// initColorProfile picks the lipgloss color profile.
// CLUTCH_COLOR overrides detection: truecolor, 256, 16, none.
func initColorProfile() {
	if colorEnv := os.Getenv("CLUTCH_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("clutch v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp()
		return
	case "serve":
		err = handleServe(args[1:])
	case "attach":
		err = handleAttach(args[1:])
	case "list", "ls":
		err = handleList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("clutch - PTY session multiplexer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  clutch serve [--listen addr] [--debug]   Run the session server")
	fmt.Println("  clutch attach [--id id] [--dir d] [--cmd c] [--kill]")
	fmt.Println("                                           Open a session in this terminal (Ctrl+Q detaches)")
	fmt.Println("  clutch ls                                List active sessions")
	fmt.Println("  clutch version                           Print the version")
	fmt.Println()
	fmt.Println("Configuration: ~/.clutch/config.toml (override the directory with CLUTCH_HOME)")
}
