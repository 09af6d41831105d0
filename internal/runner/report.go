package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fleetpatch/fleetpatch/pkg/types"
	"github.com/projectdiscovery/gologger"
)

// printReport renders the per-host outcome table at the end of a run.
func (r *Runner) printReport(result *types.RunResult) {
	hosts := append([]*types.HostReport(nil), result.Hosts...)
	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Host.Label() < hosts[j].Host.Label()
	})

	failed := len(hosts) - result.Succeeded()
	gologger.Info().Msgf("run %s finished: %d succeeded, %d failed\n", result.RunID, result.Succeeded(), failed)

	for i, report := range hosts {
		fmt.Printf("%d. %s %s\n", i+1, report.Host.Label(), r.hostStatus(report))

		if pre, post := runningKernels(report); pre != "" || post != "" {
			fmt.Printf("   kernel: %s -> %s\n", orDash(pre), orDash(post))
		}
		if len(report.Removed) > 0 {
			names := make([]string, 0, len(report.Removed))
			for _, pkg := range report.Removed {
				names = append(names, pkg.Name)
			}
			fmt.Printf("   removed: %s\n", strings.Join(names, ", "))
		}
		for _, warning := range report.Warnings {
			fmt.Printf("   %s %s\n", au.Yellow("warning:"), warning)
		}
		if report.ResidualAccess {
			fmt.Printf("   %s control key still authorized on this host\n", au.Red("RESIDUAL ACCESS:"))
		}
	}
}

func (r *Runner) hostStatus(report *types.HostReport) string {
	if report.Failed {
		return au.Red(fmt.Sprintf("[failed: %s at %s]", report.FailureKind, report.FailedStage)).String()
	}
	if len(report.Warnings) > 0 {
		return au.Yellow("[done with warnings]").String()
	}
	return au.Green("[done]").String()
}

func runningKernels(report *types.HostReport) (pre, post string) {
	if report.Precheck != nil {
		pre = report.Precheck.RunningKernel
	}
	if report.Postcheck != nil {
		post = report.Postcheck.RunningKernel
	}
	return pre, post
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
