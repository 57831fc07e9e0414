package main

import (
	"flag"
	"net/url"
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeArgs(t *testing.T) {
	newFS := func() *flag.FlagSet {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Bool("kill", false, "")
		fs.String("id", "", "")
		return fs
	}

	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{"flags first", []string{"--kill", "extra"}, []string{"--kill", "extra"}},
		{"bool after positional", []string{"extra", "--kill"}, []string{"--kill", "extra"}},
		{"value flag after positional", []string{"extra", "--id", "s1"}, []string{"--id", "s1", "extra"}},
		{"inline value", []string{"extra", "--id=s1"}, []string{"--id=s1", "extra"}},
		{"double dash", []string{"--kill", "--", "--id"}, []string{"--kill", "--id"}},
	}
	for _, tt := range tests {
		got := normalizeArgs(newFS(), tt.args)
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("%s: normalizeArgs(%v) = %v, want %v", tt.name, tt.args, got, tt.expected)
		}
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		addr  string
		path  string
		ws    bool
		query url.Values
		want  string
	}{
		{"127.0.0.1:7420", "/api/sessions", false, nil, "http://127.0.0.1:7420/api/sessions"},
		{"127.0.0.1:7420", "/ws", true, url.Values{"session": {"s1"}}, "ws://127.0.0.1:7420/ws?session=s1"},
		{"https://clutch.example/base/", "/ws", true, nil, "wss://clutch.example/base/ws"},
		{"https://clutch.example", "/healthz", false, nil, "https://clutch.example/healthz"},
	}
	for _, tt := range tests {
		got, err := serverURL(tt.addr, tt.path, tt.ws, tt.query)
		if err != nil {
			t.Fatalf("serverURL(%q): %v", tt.addr, err)
		}
		if got != tt.want {
			t.Errorf("serverURL(%q, %q, %v) = %q, want %q", tt.addr, tt.path, tt.ws, got, tt.want)
		}
	}

	if _, err := serverURL("   ", "/ws", true, nil); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := newSessionID(), newSessionID()
	if !strings.HasPrefix(a, "ses_") || len(a) != len("ses_")+12 {
		t.Fatalf("unexpected id %q", a)
	}
	if a == b {
		t.Fatalf("ids should differ: %q", a)
	}
}
