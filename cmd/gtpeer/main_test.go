package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/1ureka/gtpeer/internal/peer"
)

func TestNormalizeWSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1:8089", "ws://127.0.0.1:8089/ws"},
		{"ws://127.0.0.1:8089", "ws://127.0.0.1:8089/ws"},
		{"wss://example.com/signal?pin=1234", "wss://example.com/signal?pin=1234"},
		{"http://127.0.0.1:1/?pin=9", "ws://127.0.0.1:1/ws?pin=9"},
		{"https://x.asse.devtunnels.ms", "wss://x.asse.devtunnels.ms/ws"},
		{" ws://h:1/ws ", "ws://h:1/ws"},
	}
	for _, tt := range tests {
		got, err := normalizeWSURL(tt.in)
		if err != nil {
			t.Errorf("normalizeWSURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeWSURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := normalizeWSURL("ws://"); err == nil {
		t.Error("expected error for a URL without host")
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if code := run(context.Background(), []string{"version"}, nil, &out); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(out.String(), "gtpeer ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("timeout: soon"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := [][]string{
		{"bogus"},
		{"connect", "--no-such-flag"},
		{"serve", "extra-arg"},
		{"connect", "--config", bad},
		{"connect", "--signal", "ws://"},
	}
	for _, args := range tests {
		if code := run(context.Background(), args, nil, &bytes.Buffer{}); code != exitUsage {
			t.Errorf("run(%q) = %d, want %d", args, code, exitUsage)
		}
	}
}

func TestOutcomeCodesDifferFromUsage(t *testing.T) {
	for o := peer.Success; o <= peer.Canceled; o++ {
		if o.ExitCode() == exitUsage {
			t.Errorf("%s exits %d, the usage error code", o, exitUsage)
		}
	}
}

func TestRunHelp(t *testing.T) {
	if code := run(context.Background(), []string{"connect", "--help"}, nil, &bytes.Buffer{}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
}
