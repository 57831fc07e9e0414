package main

import (
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// normalizeArgs reorders args so flags come before positional arguments.
// The flag package stops at the first non-flag argument, which would
// silently ignore "attach work --kill".
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// serverURL builds an http(s) or ws(s) URL for path on addr. addr may be a
// bare host:port or a full URL.
func serverURL(addr, path string, websocket bool, query url.Values) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("server address is empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse server address %q: %w", addr, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server address %q has no host", addr)
	}

	switch {
	case websocket && u.Scheme == "https":
		u.Scheme = "wss"
	case websocket:
		u.Scheme = "ws"
	case u.Scheme != "https":
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// newSessionID returns an id for sessions started without --id.
func newSessionID() string {
	return "ses_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
