package pty

import (
	"os"
	"strings"

	"github.com/asheshgoplani/clutch/internal/platform"
)

// EnvVar is one caller-supplied environment entry.
type EnvVar struct {
	Key   string
	Value string
}

// SpawnOptions describes the child process started under the PTY.
type SpawnOptions struct {
	// Dir is the working directory. Empty means inherit.
	Dir string

	// Command, when non-empty, runs through a login shell that then execs an
	// interactive shell so the terminal stays usable after the command ends.
	Command string

	// Env is applied after the baseline terminal environment; on a key
	// collision the caller's value wins.
	Env []EnvVar

	// FallbackShell is used when $SHELL is unset. Empty means the platform default.
	FallbackShell string
}

// baselineEnv is injected into every child before the caller's entries.
var baselineEnv = []EnvVar{
	{Key: "TERM", Value: "xterm-256color"},
	{Key: "COLORTERM", Value: "truecolor"},
	{Key: "LANG", Value: "en_US.UTF-8"},
}

// ResolveShell returns $SHELL, or fallback, or the platform default.
func ResolveShell(fallback string) string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if fallback != "" {
		return fallback
	}
	return platform.Detect().FallbackShell()
}

// ShellQuote wraps s in single quotes, escaping embedded single quotes.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// commandLine builds the -c argument for a command run:
// optional cd prefix, the command, then exec of the interactive shell.
func commandLine(dir, command string) string {
	var b strings.Builder
	if dir != "" {
		b.WriteString("cd ")
		b.WriteString(ShellQuote(dir))
		b.WriteString(" && ")
	}
	b.WriteString(command)
	b.WriteString(`; exec "$SHELL"`)
	return b.String()
}

// shellArgs returns argv (without argv[0]) and the directory to start in.
// With a command the directory is applied by the shell's cd, so the process
// itself starts in the inherited directory.
func shellArgs(opts SpawnOptions) (args []string, dir string) {
	if strings.TrimSpace(opts.Command) != "" {
		return []string{"-l", "-c", commandLine(opts.Dir, opts.Command)}, ""
	}
	return []string{"-l"}, opts.Dir
}

// buildEnv layers base, the baseline terminal env, a SHELL entry when base
// lacks one, and the caller env. Later layers replace earlier keys in place.
func buildEnv(base []string, shell string, extra []EnvVar) []string {
	out := make([]string, 0, len(base)+len(baselineEnv)+len(extra)+1)
	index := make(map[string]int, cap(out))

	set := func(key, value string) {
		kv := key + "=" + value
		if i, ok := index[key]; ok {
			out[i] = kv
			return
		}
		index[key] = len(out)
		out = append(out, kv)
	}

	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		set(key, value)
	}
	for _, e := range baselineEnv {
		set(e.Key, e.Value)
	}
	if _, ok := index["SHELL"]; !ok {
		set("SHELL", shell)
	}
	for _, e := range extra {
		if e.Key == "" {
			continue
		}
		set(e.Key, e.Value)
	}
	return out
}
