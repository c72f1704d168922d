package moderation

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
)

func newTestGate(t *testing.T, opts ...GateOption) (*Gate, *Service) {
	t.Helper()
	repo := setupRepository(t)
	opts = append([]GateOption{WithGateClock(clock), WithGateLogger(log.New(io.Discard))}, opts...)
	return NewGate(repo, opts...), NewService(repo, WithServiceClock(clock))
}

func TestGateRejectsBannedAddress(t *testing.T) {
	gate, svc := newTestGate(t)
	ctx := context.Background()

	if _, err := svc.Ban(ctx, "192.168.1.0/24", "griefing", "admin"); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	verdict, err := gate.Check(ctx, "192.168.1.42")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !verdict.Banned || verdict.Ban == nil || verdict.Ban.Range != "192.168.1.0/24" {
		t.Fatalf("Check = %+v, want banned by 192.168.1.0/24", verdict)
	}
	if verdict.Message != "You are banned forever: griefing" {
		t.Fatalf("Message = %q", verdict.Message)
	}

	verdict, err = gate.Check(ctx, "192.168.2.1")
	if err != nil || verdict.Banned {
		t.Fatalf("Check(192.168.2.1) = %+v, %v; want allowed", verdict, err)
	}
}

func TestGateTemporaryBanMessage(t *testing.T) {
	gate, svc := newTestGate(t)
	ctx := context.Background()

	d, err := ParseDuration("1d2h")
	if err != nil {
		t.Fatalf("ParseDuration: %v", err)
	}
	if _, err := svc.TempBan(ctx, "10.0.0.0/8", d, "cooldown", "admin"); err != nil {
		t.Fatalf("TempBan: %v", err)
	}

	verdict, err := gate.Check(ctx, "10.20.30.40")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if verdict.Message != "You are banned for 1 day and 2 hours: cooldown" {
		t.Fatalf("Message = %q", verdict.Message)
	}
}

func TestGateDisabled(t *testing.T) {
	gate, svc := newTestGate(t, WithEnabled(func() bool { return false }))
	ctx := context.Background()

	if _, err := svc.Ban(ctx, "0.0.0.0/0", "", "admin"); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	verdict, err := gate.Check(ctx, "8.8.8.8")
	if err != nil || verdict.Banned {
		t.Fatalf("disabled gate returned %+v, %v", verdict, err)
	}
}

func TestGateMalformedAddress(t *testing.T) {
	gate, _ := newTestGate(t)

	if _, err := gate.Check(context.Background(), "1.2.3"); err == nil {
		t.Fatal("Check accepted a malformed address")
	}
}
