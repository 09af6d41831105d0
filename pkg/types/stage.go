package types

// Stage is a step in the per-host patch workflow. Every host progresses
// through the stages in order; a failure leaves the host parked at the
// stage it failed in.
type Stage int

const (
	StageIdle Stage = iota
	StageProbing
	StageProvisioned
	StagePrechecked
	StageKernelsInstalled
	StageBootDefaultSet
	StagePackagesUpdated
	StageToolingInstalled
	StageOldKernelsRemoved
	StageToolingRemoved
	StageRebooting
	StageVerifying
	StageCleaned
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageProbing:
		return "probe"
	case StageProvisioned:
		return "provision"
	case StagePrechecked:
		return "precheck"
	case StageKernelsInstalled:
		return "kernel-install"
	case StageBootDefaultSet:
		return "boot-default"
	case StagePackagesUpdated:
		return "package-update"
	case StageToolingInstalled:
		return "tooling-install"
	case StageOldKernelsRemoved:
		return "kernel-cleanup"
	case StageToolingRemoved:
		return "tooling-remove"
	case StageRebooting:
		return "reboot"
	case StageVerifying:
		return "verify"
	case StageCleaned:
		return "cleanup"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// StageStatus is the outcome of a single stage on a single host.
type StageStatus uint8

const (
	StageOk StageStatus = iota
	StageWarn
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StageOk:
		return "ok"
	case StageWarn:
		return "warn"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageOutcome records how one stage went, for the final report.
type StageOutcome struct {
	Stage  Stage
	Status StageStatus
	Detail string
}
