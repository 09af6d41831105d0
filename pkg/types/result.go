package types

// HostReport is everything recorded for one host over a run. It is owned
// exclusively by the host's worker until the run collects it.
type HostReport struct {
	Host  Host
	Stage Stage

	Failed      bool
	FailedStage Stage
	FailureKind FailureKind
	Err         string

	Warnings []string
	Stages   []StageOutcome

	Precheck  *Facts
	Postcheck *Facts
	Removed   []KernelPackage

	// CredentialInstalled marks that the control key landed on the host
	// and must be revoked before the run ends.
	CredentialInstalled bool
	// ResidualAccess marks that revocation failed and the control key is
	// still authorized on the host. Never silently dropped.
	ResidualAccess bool
	// ToolInstalledThisRun marks that this run installed the auxiliary
	// package-query tool, so this run is allowed to remove it.
	ToolInstalledThisRun bool
}

// Fail parks the report at the given stage with the given error.
func (r *HostReport) Fail(stage Stage, kind FailureKind, err error) {
	r.Failed = true
	r.FailedStage = stage
	r.FailureKind = kind
	if err != nil {
		r.Err = err.Error()
	}
	r.Stages = append(r.Stages, StageOutcome{Stage: stage, Status: StageFailed, Detail: r.Err})
}

// Warn records a non-fatal finding and still moves the host forward.
func (r *HostReport) Warn(stage Stage, detail string) {
	r.Stage = stage
	r.Warnings = append(r.Warnings, detail)
	r.Stages = append(r.Stages, StageOutcome{Stage: stage, Status: StageWarn, Detail: detail})
}

// Advance records a successful stage and moves the host forward.
func (r *HostReport) Advance(stage Stage) {
	r.Stage = stage
	r.Stages = append(r.Stages, StageOutcome{Stage: stage, Status: StageOk})
}

// RunResult aggregates per-host reports for one run.
type RunResult struct {
	RunID string
	Hosts []*HostReport
}

// Failed reports whether any host ended in a failed state.
func (r *RunResult) Failed() bool {
	for _, h := range r.Hosts {
		if h.Failed {
			return true
		}
	}
	return false
}

// ResidualAccess reports whether any host still has the control key
// authorized after teardown.
func (r *RunResult) ResidualAccess() bool {
	for _, h := range r.Hosts {
		if h.ResidualAccess {
			return true
		}
	}
	return false
}

// Succeeded counts hosts that reached the Done stage.
func (r *RunResult) Succeeded() int {
	var n int
	for _, h := range r.Hosts {
		if !h.Failed {
			n++
		}
	}
	return n
}
