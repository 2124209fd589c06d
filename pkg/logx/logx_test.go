package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "remindbot/internal/transport"
)

func TestFormatOpsRecord(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"error","time":"2024-01-01T00:00:00Z","message":"fetch failed","shard":2,"comp":"reminder.scheduler"}` + "\n")
	got := formatOpsRecord(line)
	want := "[ERROR] fetch failed\n- comp=reminder.scheduler\n- shard=2"
	if got != want {
		t.Fatalf("formatOpsRecord = %q, want %q", got, want)
	}
}

func TestFormatOpsRecordNotJSON(t *testing.T) {
	t.Parallel()
	if got := formatOpsRecord([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("formatOpsRecord = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) snapshot() ([]string, []kit.ChatTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...), append([]kit.ChatTarget(nil), c.to...)
}

func TestServiceMirrorsWarningsToOpsChat(t *testing.T) {
	t.Parallel()
	snd := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Ops:   OpsConfig{Enabled: true, ChatID: -100, ThreadID: 7, MinLevel: "warn", RatePerSec: 100},
	}, snd)
	defer svc.Close()

	log.Info("not mirrored")
	log.With(String("comp", "test")).Error("boom", Int("shard", 1))

	deadline := time.Now().Add(2 * time.Second)
	for {
		sent, to := snd.snapshot()
		if len(sent) == 1 {
			if !strings.HasPrefix(sent[0], "[ERROR] boom") {
				t.Fatalf("unexpected ops message: %q", sent[0])
			}
			if !strings.Contains(sent[0], "- comp=test") || !strings.Contains(sent[0], "- shard=1") {
				t.Fatalf("ops message missing fields: %q", sent[0])
			}
			if to[0].ChatID != -100 || to[0].ThreadID != 7 {
				t.Fatalf("unexpected target: %+v", to[0])
			}
			return
		}
		if len(sent) > 1 {
			t.Fatalf("expected exactly one mirrored record, got %d: %q", len(sent), sent)
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for ops message")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
