package facts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetpatch/fleetpatch/pkg/executor"
	"github.com/fleetpatch/fleetpatch/pkg/types"
)

// cannedExecutor serves fixed outcomes per command.
type cannedExecutor struct {
	outcomes map[string]*executor.Outcome
	errs     map[string]error
}

func (c *cannedExecutor) Probe(ctx context.Context, host types.Host) error {
	return nil
}

func (c *cannedExecutor) Run(ctx context.Context, host types.Host, command string, privilege executor.Privilege, timeout time.Duration) (*executor.Outcome, error) {
	if err, ok := c.errs[command]; ok {
		return nil, err
	}
	if outcome, ok := c.outcomes[command]; ok {
		return outcome, nil
	}
	return &executor.Outcome{ExitCode: 127}, nil
}

func TestCollect(t *testing.T) {
	exec := &cannedExecutor{outcomes: map[string]*executor.Outcome{
		cmdRunningKernel: {Stdout: "5.14.0-570.52.1.el9_6.x86_64\n"},
		cmdKernelList: {Stdout: "kernel-5.14.0-570.52.1.el9_6.x86_64\n" +
			"kernel-5.14.0-570.51.1.el9_6.x86_64\n"},
		cmdMountTable: {Stdout: "/dev/mapper/root / xfs defaults 0 0\n"},
	}}

	facts, err := NewCollector(exec, time.Second).Collect(context.Background(), types.Host{Name: "node1"})
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	if facts.RunningKernel != "5.14.0-570.52.1.el9_6.x86_64" {
		t.Errorf("RunningKernel = %q", facts.RunningKernel)
	}
	if len(facts.InstalledKernels) != 2 {
		t.Fatalf("InstalledKernels = %d, want 2", len(facts.InstalledKernels))
	}
	if !facts.InstalledKernels[0].Running {
		t.Error("first kernel should be marked running")
	}
	if facts.InstalledKernels[1].Running {
		t.Error("second kernel should not be marked running")
	}
	if len(facts.Missing) != 0 {
		t.Errorf("Missing = %v, want none", facts.Missing)
	}
}

func TestCollectToleratesMissingMountTable(t *testing.T) {
	exec := &cannedExecutor{outcomes: map[string]*executor.Outcome{
		cmdRunningKernel: {Stdout: "5.14.0-570.52.1.el9_6.x86_64\n"},
		cmdKernelList:    {Stdout: "kernel-5.14.0-570.52.1.el9_6.x86_64\n"},
		cmdMountTable:    {ExitCode: 1, Stderr: "cat: /etc/fstab: No such file or directory"},
	}}

	facts, err := NewCollector(exec, time.Second).Collect(context.Background(), types.Host{Name: "node1"})
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if !facts.Missed(FactMountTable) {
		t.Error("missing mount table should be recorded")
	}
	if facts.RunningKernel == "" {
		t.Error("other facts should still be collected")
	}
}

func TestCollectTransportError(t *testing.T) {
	boom := types.NewFailure(types.FailureUnreachable, "node1", errors.New("refused"))
	exec := &cannedExecutor{errs: map[string]error{cmdRunningKernel: boom}}

	if _, err := NewCollector(exec, time.Second).Collect(context.Background(), types.Host{Name: "node1"}); !errors.Is(err, boom) {
		t.Errorf("Collect() error = %v, want transport failure", err)
	}
}

func TestParseKernelList(t *testing.T) {
	out := "kernel-5.14.0-570.52.1.el9_6.x86_64\n\npackage kernel-core is not installed\nkernel-5.14.0-570.49.1.el9_6.x86_64\n"
	pkgs := parseKernelList(out, "5.14.0-570.49.1.el9_6.x86_64")

	if len(pkgs) != 2 {
		t.Fatalf("parseKernelList() = %d packages, want 2", len(pkgs))
	}
	if pkgs[0].Version != "5.14.0-570.52.1.el9_6.x86_64" {
		t.Errorf("version = %q", pkgs[0].Version)
	}
	if pkgs[0].Running || !pkgs[1].Running {
		t.Errorf("running flags wrong: %+v", pkgs)
	}
}
