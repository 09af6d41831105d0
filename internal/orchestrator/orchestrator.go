// Package orchestrator drives the fleet patch workflow: one worker per
// host walks the stage sequence, failures are isolated per host, and a
// single barrier-gated cleanup revokes ephemeral access once every host
// has reached a terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fleetpatch/fleetpatch/pkg/executor"
	"github.com/fleetpatch/fleetpatch/pkg/facts"
	"github.com/fleetpatch/fleetpatch/pkg/retention"
	"github.com/fleetpatch/fleetpatch/pkg/sshkey"
	"github.com/fleetpatch/fleetpatch/pkg/types"
	"github.com/kr/pretty"
	"github.com/projectdiscovery/gologger"
	syncutil "github.com/projectdiscovery/utils/sync"
)

// toolPackage is the auxiliary package-query tool the workflow installs
// when absent and removes again only if this run installed it.
const toolPackage = "yum-utils"

const (
	cmdUpdatePackages = "yum update -y --exclude=kernel*"
	cmdQueryTool      = "rpm -q " + toolPackage
	cmdInstallTool    = "yum install -y " + toolPackage
	cmdRemoveTool     = "yum remove -y " + toolPackage
	cmdReboot         = "reboot"
	cmdRunningKernel  = "uname -r"
)

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	// Keep is the operator's retention selection of exactly two kernels.
	Keep retention.Selection
	// Concurrency bounds the number of hosts patched in parallel.
	Concurrency int
	// CommandTimeout bounds quick remote commands.
	CommandTimeout time.Duration
	// PatchTimeout bounds package-manager operations.
	PatchTimeout time.Duration
	// RebootGrace is how long to wait before first polling a rebooting host.
	RebootGrace time.Duration
	// RebootBudget is the maximum total wait for a host to come back.
	RebootBudget time.Duration
	// PollInterval is the initial reachability poll interval; it backs off.
	PollInterval time.Duration
	// CleanupTimeout bounds the terminal revoke pass.
	CleanupTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = time.Minute
	}
	if o.PatchTimeout <= 0 {
		o.PatchTimeout = 30 * time.Minute
	}
	if o.RebootGrace <= 0 {
		o.RebootGrace = 30 * time.Second
	}
	if o.RebootBudget <= 0 {
		o.RebootBudget = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = 2 * time.Minute
	}
}

// Orchestrator runs the patch workflow across a fleet.
type Orchestrator struct {
	exec      executor.Executor
	keys      *sshkey.Manager
	collector *facts.Collector
	opts      Options
}

// New builds an orchestrator around an executor and credential manager.
func New(exec executor.Executor, keys *sshkey.Manager, opts Options) *Orchestrator {
	opts.withDefaults()
	return &Orchestrator{
		exec:      exec,
		keys:      keys,
		collector: facts.NewCollector(exec, opts.CommandTimeout),
		opts:      opts,
	}
}

// Run patches every host with bounded parallelism and returns once all
// hosts reached a terminal state and ephemeral access was torn down.
// Cancelling ctx stops forward progress but never skips the teardown.
func (o *Orchestrator) Run(ctx context.Context, runID string, hosts []types.Host) (*types.RunResult, error) {
	result := &types.RunResult{RunID: runID}

	awg, err := syncutil.New(syncutil.WithSize(o.opts.Concurrency))
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	for _, host := range hosts {
		awg.Add()
		go func(h types.Host) {
			defer awg.Done()
			report := o.runHost(ctx, h)
			mu.Lock()
			result.Hosts = append(result.Hosts, report)
			mu.Unlock()
		}(host)
	}
	awg.Wait()

	o.cleanup(result)
	return result, nil
}

// runHost walks one host through the stage sequence. The returned report
// is owned by this worker until Run merges it.
func (o *Orchestrator) runHost(ctx context.Context, host types.Host) *types.HostReport {
	report := &types.HostReport{Host: host, Stage: types.StageIdle}
	var remediated bool

	// probe
	if err := o.exec.Probe(ctx, host); err != nil {
		report.Host.Reachability = types.ReachabilityUnreachable
		report.Fail(types.StageProbing, types.FailureUnreachable, err)
		gologger.Warning().Msgf("[%s] unreachable, excluded from run", host.Label())
		return report
	}
	report.Host.Reachability = types.ReachabilityReachable
	report.Advance(types.StageProbing)

	// provision the control key
	if err := o.keys.Install(ctx, host); err != nil {
		report.Fail(types.StageProvisioned, types.KindOf(err), err)
		gologger.Warning().Msgf("[%s] control key install failed: %s", host.Label(), err)
		return report
	}
	report.CredentialInstalled = true
	report.Advance(types.StageProvisioned)

	// precheck
	pre, err := o.collector.Collect(ctx, host)
	if err != nil {
		report.Fail(types.StagePrechecked, types.KindOf(err), err)
		return report
	}
	report.Precheck = pre
	gologger.Verbose().Msgf("[%s] precheck: %s", host.Label(), pretty.Sprint(pre))
	report.Advance(types.StagePrechecked)

	// install the kept kernels
	outcome, err := o.command(ctx, host, installKernelsCommand(o.opts.Keep), executor.PrivilegeElevated, o.opts.PatchTimeout, &remediated)
	if err != nil {
		report.Fail(types.StageKernelsInstalled, types.KindOf(err), err)
		return report
	}
	if !outcome.Ok() {
		report.Fail(types.StageKernelsInstalled, types.FailureCommand,
			fmt.Errorf("kernel install exited %d: %s", outcome.ExitCode, strings.TrimSpace(outcome.Stderr)))
		return report
	}
	report.Advance(types.StageKernelsInstalled)

	// point the boot loader at the newer kept kernel
	bootTarget := o.opts.Keep.Newer()
	outcome, err = o.command(ctx, host, bootDefaultCommand(bootTarget), executor.PrivilegeElevated, o.opts.CommandTimeout, &remediated)
	if err != nil {
		report.Fail(types.StageBootDefaultSet, types.KindOf(err), err)
		return report
	}
	if !outcome.Ok() {
		report.Fail(types.StageBootDefaultSet, types.FailureCommand,
			fmt.Errorf("boot default change exited %d: %s", outcome.ExitCode, strings.TrimSpace(outcome.Stderr)))
		return report
	}
	report.Advance(types.StageBootDefaultSet)

	// update everything except kernels
	outcome, err = o.command(ctx, host, cmdUpdatePackages, executor.PrivilegeElevated, o.opts.PatchTimeout, &remediated)
	if err != nil {
		report.Fail(types.StagePackagesUpdated, types.KindOf(err), err)
		return report
	}
	if !outcome.Ok() {
		report.Warn(types.StagePackagesUpdated,
			fmt.Sprintf("package update exited %d: %s", outcome.ExitCode, strings.TrimSpace(outcome.Stderr)))
	} else {
		report.Advance(types.StagePackagesUpdated)
	}

	// auxiliary tooling, provenance-tagged: only remove later what this
	// run installed
	outcome, err = o.command(ctx, host, cmdQueryTool, executor.PrivilegeUser, o.opts.CommandTimeout, &remediated)
	if err != nil {
		report.Fail(types.StageToolingInstalled, types.KindOf(err), err)
		return report
	}
	if !outcome.Ok() {
		outcome, err = o.command(ctx, host, cmdInstallTool, executor.PrivilegeElevated, o.opts.PatchTimeout, &remediated)
		if err != nil {
			report.Fail(types.StageToolingInstalled, types.KindOf(err), err)
			return report
		}
		if !outcome.Ok() {
			report.Warn(types.StageToolingInstalled,
				fmt.Sprintf("%s install exited %d", toolPackage, outcome.ExitCode))
		} else {
			report.ToolInstalledThisRun = true
			report.Advance(types.StageToolingInstalled)
		}
	} else {
		report.Advance(types.StageToolingInstalled)
	}

	// retention enforcement against the post-install kernel inventory
	_, installed, err := o.collector.KernelInventory(ctx, host)
	if err != nil {
		report.Fail(types.StageOldKernelsRemoved, types.KindOf(err), err)
		return report
	}
	removals, err := retention.ComputeRemovals(installed, o.opts.Keep)
	if err != nil {
		report.Fail(types.StageOldKernelsRemoved, types.FailureInvalidSelection, err)
		return report
	}
	if len(removals) > 0 {
		outcome, err = o.command(ctx, host, removeKernelsCommand(removals), executor.PrivilegeElevated, o.opts.PatchTimeout, &remediated)
		if err != nil {
			report.Fail(types.StageOldKernelsRemoved, types.KindOf(err), err)
			return report
		}
		if !outcome.Ok() {
			report.Warn(types.StageOldKernelsRemoved,
				fmt.Sprintf("kernel cleanup exited %d: %s", outcome.ExitCode, strings.TrimSpace(outcome.Stderr)))
		} else {
			report.Removed = removals
			report.Advance(types.StageOldKernelsRemoved)
		}
	} else {
		// nothing outside the keep-set: a no-op is success, not a skip
		report.Advance(types.StageOldKernelsRemoved)
	}

	// remove tooling only if this run put it there
	if report.ToolInstalledThisRun {
		outcome, err = o.command(ctx, host, cmdRemoveTool, executor.PrivilegeElevated, o.opts.CommandTimeout, &remediated)
		if err != nil || !outcome.Ok() {
			report.Warn(types.StageToolingRemoved, toolPackage+" removal failed, left installed")
		} else {
			report.Advance(types.StageToolingRemoved)
		}
	} else {
		report.Advance(types.StageToolingRemoved)
	}

	// reboot: the connection dropping mid-command is the expected outcome
	gologger.Info().Msgf("[%s] rebooting", host.Label())
	if _, err := o.exec.Run(ctx, host, cmdReboot, executor.PrivilegeElevated, o.opts.CommandTimeout); err != nil {
		gologger.Verbose().Msgf("[%s] reboot connection dropped: %s", host.Label(), err)
	}
	report.Advance(types.StageRebooting)

	// verify the host came back on the intended kernel
	if err := o.waitReady(ctx, host); err != nil {
		report.Fail(types.StageVerifying, types.FailureVerifyTimeout, err)
		return report
	}

	post, err := o.collector.Collect(ctx, host)
	if err != nil {
		report.Fail(types.StageVerifying, types.KindOf(err), err)
		return report
	}
	report.Postcheck = post
	gologger.Verbose().Msgf("[%s] postcheck: %s", host.Label(), pretty.Sprint(post))

	if !runningMatches(post.RunningKernel, bootTarget) {
		// the machine did reboot; the kernel check is advisory
		report.Warn(types.StageVerifying,
			fmt.Sprintf("running kernel %s, expected %s", post.RunningKernel, bootTarget))
	} else {
		report.Advance(types.StageVerifying)
	}
	return report
}

// command runs a remote command, remediating an auth failure at most
// once per host by reinstalling the control key and retrying.
func (o *Orchestrator) command(ctx context.Context, host types.Host, cmd string, privilege executor.Privilege, timeout time.Duration, remediated *bool) (*executor.Outcome, error) {
	outcome, err := o.exec.Run(ctx, host, cmd, privilege, timeout)
	if err != nil && types.KindOf(err) == types.FailureAuth && !*remediated {
		*remediated = true
		gologger.Warning().Msgf("[%s] auth failure, reinstalling control key", host.Label())
		if ierr := o.keys.Install(ctx, host); ierr == nil {
			return o.exec.Run(ctx, host, cmd, privilege, timeout)
		}
	}
	return outcome, err
}

// waitReady polls a rebooting host until it answers again or the budget
// runs out. The poll interval backs off; there is no busy wait.
func (o *Orchestrator) waitReady(ctx context.Context, host types.Host) error {
	if err := sleepCtx(ctx, o.opts.RebootGrace); err != nil {
		return err
	}

	deadline := time.Now().Add(o.opts.RebootBudget)
	interval := o.opts.PollInterval
	for time.Now().Before(deadline) {
		if err := o.exec.Probe(ctx, host); err == nil {
			outcome, err := o.exec.Run(ctx, host, cmdRunningKernel, executor.PrivilegeUser, o.opts.CommandTimeout)
			if err == nil && outcome.Ok() {
				return nil
			}
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
		if interval < 30*time.Second {
			interval = interval * 3 / 2
		}
	}
	return fmt.Errorf("host did not come back within %s", o.opts.RebootBudget)
}

// cleanup is the terminal barrier: it revokes the control key from every
// provisioned host exactly once per run, on a fresh context so an
// operator interrupt cannot skip it, and shreds the bootstrap key.
func (o *Orchestrator) cleanup(result *types.RunResult) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.CleanupTimeout)
	defer cancel()

	for _, report := range result.Hosts {
		if !report.CredentialInstalled {
			continue
		}
		if err := o.keys.Revoke(ctx, report.Host); err != nil {
			// security exposure, never silently dropped
			report.ResidualAccess = true
			report.Warn(types.StageCleaned, "control key revoke failed, residual access on host")
			gologger.Error().Msgf("[%s] RESIDUAL ACCESS: control key revoke failed: %s", report.Host.Label(), err)
			continue
		}
		report.CredentialInstalled = false
		if !report.Failed {
			report.Advance(types.StageCleaned)
			report.Advance(types.StageDone)
		}
	}

	if err := o.keys.Destroy(); err != nil {
		gologger.Error().Msgf("failed to shred bootstrap key material: %s", err)
	}
}

func runningMatches(running, bootTarget string) bool {
	expected := strings.TrimPrefix(bootTarget, "kernel-")
	return running == expected || strings.HasPrefix(running, expected+".")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func installKernelsCommand(keep retention.Selection) string {
	return "yum install -y " + keep.First + " " + keep.Second
}

func bootDefaultCommand(id string) string {
	return fmt.Sprintf("grub2-set-default '%s'", id)
}

func removeKernelsCommand(removals []types.KernelPackage) string {
	names := make([]string, 0, len(removals))
	for _, pkg := range removals {
		names = append(names, pkg.Name)
	}
	return "yum remove -y " + strings.Join(names, " ")
}
