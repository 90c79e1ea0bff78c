package main

import (
	"context"
	"flag"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	wc "github.com/linnemanlabs/wardwatch/internal/cfg"
	"github.com/linnemanlabs/wardwatch/internal/notify"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func defaultConfig(t *testing.T, args ...string) *wc.Config {
	t.Helper()
	var c wc.Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	return &c
}

func TestNewDispatcher_NoChannels(t *testing.T) {
	t.Parallel()

	d, err := newDispatcher(defaultConfig(t), log.Nop(), notify.Hooks{})
	if err != nil {
		t.Fatalf("newDispatcher: %v", err)
	}
	if d != nil {
		t.Error("expected nil dispatcher when no channel is configured")
	}
	if closeDispatcher(d) != nil {
		t.Error("expected nil close func for nil dispatcher")
	}
}

func TestNewDispatcher_Routes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name: "slack only",
			args: []string{"-slack-webhook-url", "http://slack.invalid/hook"},
		},
		{
			name: "pager route to configured channel",
			args: []string{
				"-slack-webhook-url", "http://slack.invalid/hook",
				"-pager-webhook-url", "http://pager.invalid/page",
				"-notify-routes", "*:critical=webhook",
			},
		},
		{
			name: "route to unconfigured channel",
			args: []string{
				"-slack-webhook-url", "http://slack.invalid/hook",
				"-notify-routes", "respiratory:high=webhook",
			},
			wantErr: "not configured",
		},
		{
			name:    "routes without channels",
			args:    []string{"-notify-routes", "*:high=slack"},
			wantErr: "no channel is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := newDispatcher(defaultConfig(t, tt.args...), log.Nop(), notify.Hooks{})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("newDispatcher: %v", err)
			}
			if d == nil {
				t.Fatal("expected dispatcher")
			}
			if err := closeDispatcher(d)(context.Background()); err != nil {
				t.Errorf("close: %v", err)
			}
		})
	}
}
