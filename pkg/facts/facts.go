// Package facts gathers per-host system snapshots before and after
// patching. Collection is read-only and tolerates partial data: a fact
// that cannot be gathered is recorded as missing instead of failing the
// whole snapshot.
package facts

import (
	"context"
	"strings"
	"time"

	"github.com/fleetpatch/fleetpatch/pkg/executor"
	"github.com/fleetpatch/fleetpatch/pkg/types"
)

const (
	cmdRunningKernel = "uname -r"
	cmdKernelList    = "rpm -q kernel"
	cmdMountTable    = "cat /etc/fstab"
)

// Fact names used in Facts.Missing.
const (
	FactRunningKernel    = "running-kernel"
	FactInstalledKernels = "installed-kernels"
	FactMountTable       = "mount-table"
)

// Collector gathers Facts through a remote executor.
type Collector struct {
	exec    executor.Executor
	timeout time.Duration
}

// NewCollector returns a collector using the given per-command timeout.
func NewCollector(exec executor.Executor, timeout time.Duration) *Collector {
	return &Collector{exec: exec, timeout: timeout}
}

// Collect takes a full snapshot of the host. Only transport-level errors
// abort collection; individual command failures mark the fact missing.
func (c *Collector) Collect(ctx context.Context, host types.Host) (*types.Facts, error) {
	facts := &types.Facts{}

	running, installed, err := c.KernelInventory(ctx, host)
	if err != nil {
		return nil, err
	}
	if running == "" {
		facts.Missing = append(facts.Missing, FactRunningKernel)
	}
	if installed == nil {
		facts.Missing = append(facts.Missing, FactInstalledKernels)
	}
	facts.RunningKernel = running
	facts.InstalledKernels = installed

	outcome, err := c.exec.Run(ctx, host, cmdMountTable, executor.PrivilegeUser, c.timeout)
	if err != nil {
		return nil, err
	}
	if outcome.Ok() {
		facts.MountTable = outcome.Stdout
	} else {
		facts.Missing = append(facts.Missing, FactMountTable)
	}

	return facts, nil
}

// KernelInventory returns the running kernel release and the installed
// kernel package list. The orchestrator re-queries this between kernel
// install and retention enforcement, when the package set has changed.
func (c *Collector) KernelInventory(ctx context.Context, host types.Host) (string, []types.KernelPackage, error) {
	var running string
	outcome, err := c.exec.Run(ctx, host, cmdRunningKernel, executor.PrivilegeUser, c.timeout)
	if err != nil {
		return "", nil, err
	}
	if outcome.Ok() {
		running = strings.TrimSpace(outcome.Stdout)
	}

	outcome, err = c.exec.Run(ctx, host, cmdKernelList, executor.PrivilegeUser, c.timeout)
	if err != nil {
		return running, nil, err
	}
	if !outcome.Ok() {
		return running, nil, nil
	}
	return running, parseKernelList(outcome.Stdout, running), nil
}

// parseKernelList turns `rpm -q kernel` output into kernel packages,
// marking the one matching the running release.
func parseKernelList(out, running string) []types.KernelPackage {
	var pkgs []types.KernelPackage
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || !strings.HasPrefix(name, "kernel-") {
			continue
		}
		version := strings.TrimPrefix(name, "kernel-")
		pkgs = append(pkgs, types.KernelPackage{
			Name:    name,
			Version: version,
			Running: running != "" && version == running,
		})
	}
	return pkgs
}
