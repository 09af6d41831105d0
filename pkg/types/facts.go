package types

// KernelPackage is one installed kernel package on a host.
type KernelPackage struct {
	// Name is the full package name, e.g. kernel-5.14.0-570.52.1.el9_6.x86_64
	Name string
	// Version is the name without the "kernel-" prefix
	Version string
	// Running marks the kernel the host is currently booted into
	Running bool
}

// Facts is a per-host system snapshot taken before and after patching.
type Facts struct {
	RunningKernel    string
	InstalledKernels []KernelPackage
	MountTable       string

	// Missing lists facts that could not be collected on the host
	Missing []string
}

// Missed reports whether the named fact was unavailable at collection time.
func (f *Facts) Missed(name string) bool {
	for _, m := range f.Missing {
		if m == name {
			return true
		}
	}
	return false
}
