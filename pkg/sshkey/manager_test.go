package sshkey

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/fleetpatch/fleetpatch/pkg/executor"
	"github.com/fleetpatch/fleetpatch/pkg/types"
)

// shellExecutor runs commands against a local shell with HOME pointed at
// a scratch directory, so the real install/revoke command semantics are
// exercised without a remote host.
type shellExecutor struct {
	home string
}

func (s *shellExecutor) Probe(ctx context.Context, host types.Host) error {
	return nil
}

func (s *shellExecutor) Run(ctx context.Context, host types.Host, command string, privilege executor.Privilege, timeout time.Duration) (*executor.Outcome, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), "HOME="+s.home)
	out, err := cmd.CombinedOutput()
	outcome := &executor.Outcome{Stdout: string(out)}
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			outcome.ExitCode = ee.ExitCode()
		} else {
			return nil, err
		}
	}
	return outcome, nil
}

func authorizedKeys(t *testing.T, home string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(home, ".ssh", "authorized_keys"))
	if err != nil {
		t.Fatalf("reading authorized_keys: %v", err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func newShellManager(t *testing.T) (*Manager, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	home := t.TempDir()
	cred, err := EnsureControlKey(t.TempDir())
	if err != nil {
		t.Fatalf("EnsureControlKey() error: %v", err)
	}
	return NewManager(&shellExecutor{home: home}, cred, "", 5*time.Second), home
}

func TestInstallIsIdempotent(t *testing.T) {
	mgr, home := newShellManager(t)
	host := types.Host{Name: "node1", Address: "127.0.0.1"}

	for i := 0; i < 2; i++ {
		if err := mgr.Install(context.Background(), host); err != nil {
			t.Fatalf("Install() attempt %d error: %v", i+1, err)
		}
	}

	lines := authorizedKeys(t, home)
	if len(lines) != 1 {
		t.Fatalf("authorized_keys has %d entries after double install, want 1:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if lines[0] != mgr.Credential().AuthorizedLine {
		t.Errorf("authorized_keys entry = %q, want %q", lines[0], mgr.Credential().AuthorizedLine)
	}
	if got := mgr.InstalledOn(); len(got) != 1 || got[0].Label() != "node1" {
		t.Errorf("InstalledOn() = %v, want [node1]", got)
	}
}

func TestRevokeRemovesOnlyOwnEntry(t *testing.T) {
	mgr, home := newShellManager(t)
	host := types.Host{Name: "node1", Address: "127.0.0.1"}

	// a pre-existing key that must survive the run untouched
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	preexisting := "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIPreExisting operator@laptop"
	if err := os.WriteFile(filepath.Join(sshDir, "authorized_keys"), []byte(preexisting+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Install(context.Background(), host); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if got := len(authorizedKeys(t, home)); got != 2 {
		t.Fatalf("authorized_keys has %d entries after install, want 2", got)
	}

	if err := mgr.Revoke(context.Background(), host); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	lines := authorizedKeys(t, home)
	if len(lines) != 1 || lines[0] != preexisting {
		t.Errorf("authorized_keys after revoke = %v, want only the pre-existing entry", lines)
	}
	if got := mgr.InstalledOn(); len(got) != 0 {
		t.Errorf("InstalledOn() = %v after revoke, want empty", got)
	}
}

func TestRevokeWhenOwnEntryIsOnly(t *testing.T) {
	mgr, home := newShellManager(t)
	host := types.Host{Name: "node1", Address: "127.0.0.1"}

	if err := mgr.Install(context.Background(), host); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if err := mgr.Revoke(context.Background(), host); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".ssh", "authorized_keys"))
	if err != nil {
		t.Fatalf("reading authorized_keys: %v", err)
	}
	if strings.TrimSpace(string(data)) != "" {
		t.Errorf("authorized_keys not empty after revoke: %q", string(data))
	}
}

func TestDestroyShredsBootstrapKey(t *testing.T) {
	path, err := WriteEphemeralKey([]byte("bootstrap key material"))
	if err != nil {
		t.Fatalf("WriteEphemeralKey() error: %v", err)
	}

	cred, err := EnsureControlKey(t.TempDir())
	if err != nil {
		t.Fatalf("EnsureControlKey() error: %v", err)
	}
	mgr := NewManager(&shellExecutor{home: t.TempDir()}, cred, path, time.Second)

	if err := mgr.Destroy(); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Destroy() left the bootstrap key behind")
	}
	// control keypair survives for reuse
	if _, err := os.Stat(cred.PrivateKeyPath); err != nil {
		t.Errorf("control key should persist: %v", err)
	}
}
