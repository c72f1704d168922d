package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"cidrbans/internal/domain"
	"cidrbans/internal/moderation"
)

func TestResolvePort(t *testing.T) {
	if got := resolvePort(5050, 8080); got != 5050 {
		t.Fatalf("resolvePort returned %d, want 5050", got)
	}
	if got := resolvePort(0, 8080); got != 8080 {
		t.Fatalf("resolvePort returned %d, want fallback 8080", got)
	}
	if got := resolvePort(70000, 8080); got != 8080 {
		t.Fatalf("resolvePort with invalid port returned %d, want 8080", got)
	}
}

func TestResolveLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if got := resolveLogLevel(); got != log.DebugLevel {
		t.Fatalf("resolveLogLevel = %v, want debug", got)
	}

	t.Setenv("LOG_LEVEL", "loud")
	if got := resolveLogLevel(); got != log.InfoLevel {
		t.Fatalf("resolveLogLevel with garbage = %v, want info", got)
	}
}

func TestParsePageArg(t *testing.T) {
	if got, err := parsePageArg(""); err != nil || got != 1 {
		t.Fatalf("parsePageArg(\"\") = %d, %v", got, err)
	}
	if got, err := parsePageArg("3"); err != nil || got != 3 {
		t.Fatalf("parsePageArg(3) = %d, %v", got, err)
	}
	for _, raw := range []string{"0", "-1", "two"} {
		if _, err := parsePageArg(raw); err == nil {
			t.Errorf("parsePageArg(%q) accepted", raw)
		}
	}
}

func TestRootCommandSubcommands(t *testing.T) {
	root := RootCommand()

	names := make(map[string]bool, len(root.Commands))
	for _, c := range root.Commands {
		names[c.Name] = true
	}
	for _, want := range []string{"serve", "add", "addtemp", "del", "list", "check"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestWritePage(t *testing.T) {
	var buf bytes.Buffer
	writePage(&buf, moderation.Page{Number: 1, TotalPages: 1})
	if !strings.Contains(buf.String(), "There are currently no CIDR range bans.") {
		t.Fatalf("empty page output = %q", buf.String())
	}

	buf.Reset()
	writePage(&buf, moderation.Page{
		Number:     1,
		TotalPages: 2,
		Total:      11,
		Bans:       []domain.BanRecord{{Range: "10.0.0.0/8", Reason: "spam", ExpiresAt: "2030-01-01T00:00:00"}},
	})
	got := buf.String()
	for _, want := range []string{"CIDR Range Bans (1/2):", "10.0.0.0/8 (until 2030-01-01T00:00:00) - spam", "Type list 2 for more."} {
		if !strings.Contains(got, want) {
			t.Errorf("page output %q missing %q", got, want)
		}
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := RootCommand()
	root.Writer = &buf
	root.ErrWriter = &buf
	err := root.Run(context.Background(), append([]string{"cidrbans"}, args...))
	return buf.String(), err
}

func TestCommandsAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "bans.sqlite"))
	t.Setenv("SETTINGS_PATH", filepath.Join(dir, "settings.json"))
	t.Setenv("REDIS_URL", "")
	t.Setenv("CLEANUP_SCHEDULE", "")

	got, err := runCLI(t, "--actor", "alice", "add", "192.168.1.0/24", "repeat", "offender")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(got, "Banned range 192.168.1.0/24 for 'repeat offender'.") {
		t.Fatalf("add output = %q", got)
	}

	if _, err := runCLI(t, "add", "192.168.1.0/24"); err == nil {
		t.Fatal("duplicate add succeeded")
	}
	if _, err := runCLI(t, "add", "999.0.0.0/24"); err == nil {
		t.Fatal("malformed add succeeded")
	}

	got, err = runCLI(t, "addtemp", "10.0.0.0/16", "1d")
	if err != nil {
		t.Fatalf("addtemp: %v", err)
	}
	if !strings.Contains(got, "Manually added IP address ban.") {
		t.Fatalf("addtemp output = %q", got)
	}
	if _, err := runCLI(t, "addtemp", "10.1.0.0/16", "2"); err == nil {
		t.Fatal("addtemp accepted a bare number")
	}

	got, err = runCLI(t, "check", "192.168.1.9")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(got, "You are banned forever: repeat offender") {
		t.Fatalf("check output = %q", got)
	}

	got, err = runCLI(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(got, "CIDR Range Bans (1/1):") || !strings.Contains(got, "10.0.0.0/16") {
		t.Fatalf("list output = %q", got)
	}

	got, err = runCLI(t, "del", "10.0.3.4")
	if err != nil {
		t.Fatalf("del by ip: %v", err)
	}
	if !strings.Contains(got, "Removed 1 range from the database:") {
		t.Fatalf("del output = %q", got)
	}

	got, err = runCLI(t, "del", "192.168.1.0/24")
	if err != nil {
		t.Fatalf("del by range: %v", err)
	}
	if !strings.Contains(got, "Unbanned range 192.168.1.0/24.") {
		t.Fatalf("del output = %q", got)
	}

	if _, err := runCLI(t, "del", "192.168.1.0/24"); err == nil {
		t.Fatal("deleting a missing range succeeded")
	}
	if _, err := runCLI(t, "del", "nonsense"); err == nil {
		t.Fatal("del accepted garbage")
	}

	got, err = runCLI(t, "check", "192.168.1.9")
	if err != nil || !strings.Contains(got, "is not banned") {
		t.Fatalf("check after del = %q, %v", got, err)
	}
}
