package sshkey

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetpatch/fleetpatch/pkg/executor"
	"github.com/fleetpatch/fleetpatch/pkg/types"
)

// Manager owns the credential lifecycle for one run: it installs the
// control key on hosts, tracks where it landed, revokes it at teardown
// and shreds the ephemeral bootstrap key material. The installed-on set
// must be empty before the run ends; any host left in it is a residual
// access exposure.
type Manager struct {
	exec          executor.Executor
	cred          *Credential
	bootstrapPath string
	timeout       time.Duration

	mu        sync.Mutex
	installed map[string]types.Host
}

// NewManager builds a credential manager around the control credential.
// bootstrapPath may be empty when no ephemeral operator key was written.
func NewManager(exec executor.Executor, cred *Credential, bootstrapPath string, timeout time.Duration) *Manager {
	return &Manager{
		exec:          exec,
		cred:          cred,
		bootstrapPath: bootstrapPath,
		timeout:       timeout,
		installed:     make(map[string]types.Host),
	}
}

// Credential returns the managed control credential.
func (m *Manager) Credential() *Credential {
	return m.cred
}

// Install appends the control key to the host's authorized_keys. Safe to
// call twice: the entry is guarded by an exact-line match, so no
// duplicates accumulate.
func (m *Manager) Install(ctx context.Context, host types.Host) error {
	outcome, err := m.exec.Run(ctx, host, installCommand(m.cred.AuthorizedLine), executor.PrivilegeUser, m.timeout)
	if err != nil {
		return err
	}
	if !outcome.Ok() {
		return types.NewFailure(types.FailureAuth, host.Label(),
			fmt.Errorf("authorized_keys update exited %d: %s", outcome.ExitCode, outcome.Stderr))
	}

	m.mu.Lock()
	m.installed[host.Label()] = host
	m.mu.Unlock()
	return nil
}

// Revoke removes exactly the entry Install added, leaving pre-existing
// authorized keys untouched, and verifies the entry is gone.
func (m *Manager) Revoke(ctx context.Context, host types.Host) error {
	outcome, err := m.exec.Run(ctx, host, revokeCommand(m.cred.AuthorizedLine), executor.PrivilegeUser, m.timeout)
	if err != nil {
		return err
	}
	if !outcome.Ok() {
		return types.NewFailure(types.FailureAuth, host.Label(),
			fmt.Errorf("authorized_keys revoke exited %d: %s", outcome.ExitCode, outcome.Stderr))
	}

	m.mu.Lock()
	delete(m.installed, host.Label())
	m.mu.Unlock()
	return nil
}

// InstalledOn returns the hosts the control key is still authorized on.
func (m *Manager) InstalledOn() []types.Host {
	m.mu.Lock()
	defer m.mu.Unlock()
	hosts := make([]types.Host, 0, len(m.installed))
	for _, h := range m.installed {
		hosts = append(hosts, h)
	}
	return hosts
}

// Destroy shreds the ephemeral bootstrap key material. The control
// keypair itself stays on disk for reuse by the next run.
func (m *Manager) Destroy() error {
	if m.bootstrapPath == "" {
		return nil
	}
	return shred(m.bootstrapPath)
}

func installCommand(line string) string {
	return "mkdir -p ~/.ssh && chmod 700 ~/.ssh && " +
		"touch ~/.ssh/authorized_keys && chmod 600 ~/.ssh/authorized_keys && " +
		"{ grep -qxF '" + line + "' ~/.ssh/authorized_keys || echo '" + line + "' >> ~/.ssh/authorized_keys; }"
}

func revokeCommand(line string) string {
	// deliberately not && after grep: it exits non-zero when our entry was
	// the only line, and the move must still happen
	return "grep -vxF '" + line + "' ~/.ssh/authorized_keys > ~/.ssh/authorized_keys.fleetpatch; " +
		"mv ~/.ssh/authorized_keys.fleetpatch ~/.ssh/authorized_keys && " +
		"chmod 600 ~/.ssh/authorized_keys && " +
		"! grep -qxF '" + line + "' ~/.ssh/authorized_keys"
}
