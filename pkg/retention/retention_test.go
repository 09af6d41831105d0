package retention

import (
	"errors"
	"testing"

	"github.com/fleetpatch/fleetpatch/pkg/types"
)

func kernels(names ...string) []types.KernelPackage {
	pkgs := make([]types.KernelPackage, 0, len(names))
	for _, name := range names {
		pkgs = append(pkgs, types.KernelPackage{
			Name:    name,
			Version: name[len("kernel-"):],
		})
	}
	return pkgs
}

func TestComputeRemovals(t *testing.T) {
	keep := Selection{
		First:  "kernel-5.14.0-570.52.1.el9_6",
		Second: "kernel-5.14.0-570.51.1.el9_6",
	}

	tests := []struct {
		name        string
		installed   []types.KernelPackage
		running     string
		keep        Selection
		wantRemoved []string
		wantInvalid bool
	}{
		{
			name: "removes everything outside the keep-set",
			installed: kernels(
				"kernel-5.14.0-570.52.1.el9_6.x86_64",
				"kernel-5.14.0-570.51.1.el9_6.x86_64",
				"kernel-5.14.0-570.49.1.el9_6.x86_64",
				"kernel-5.14.0-570.42.2.el9_6.x86_64",
			),
			keep: keep,
			wantRemoved: []string{
				"kernel-5.14.0-570.49.1.el9_6.x86_64",
				"kernel-5.14.0-570.42.2.el9_6.x86_64",
			},
		},
		{
			name: "never removes the running kernel",
			installed: kernels(
				"kernel-5.14.0-570.52.1.el9_6.x86_64",
				"kernel-5.14.0-570.51.1.el9_6.x86_64",
				"kernel-5.14.0-570.49.1.el9_6.x86_64",
			),
			running:     "kernel-5.14.0-570.49.1.el9_6.x86_64",
			keep:        keep,
			wantRemoved: []string{},
		},
		{
			name: "zero removals is success",
			installed: kernels(
				"kernel-5.14.0-570.52.1.el9_6.x86_64",
				"kernel-5.14.0-570.51.1.el9_6.x86_64",
			),
			keep:        keep,
			wantRemoved: []string{},
		},
		{
			name: "unknown keep identifier is invalid",
			installed: kernels(
				"kernel-5.14.0-570.52.1.el9_6.x86_64",
				"kernel-5.14.0-570.49.1.el9_6.x86_64",
			),
			keep:        keep,
			wantInvalid: true,
		},
		{
			name:        "empty installed set is invalid",
			installed:   nil,
			keep:        keep,
			wantInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range tt.installed {
				if tt.installed[i].Name == tt.running {
					tt.installed[i].Running = true
				}
			}

			removed, err := ComputeRemovals(tt.installed, tt.keep)
			if tt.wantInvalid {
				var invalid *InvalidSelectionError
				if !errors.As(err, &invalid) {
					t.Fatalf("ComputeRemovals() error = %v, want InvalidSelectionError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ComputeRemovals() unexpected error: %v", err)
			}
			if len(removed) != len(tt.wantRemoved) {
				t.Fatalf("ComputeRemovals() removed %d packages, want %d: %v", len(removed), len(tt.wantRemoved), removed)
			}
			// removal order is installed order
			for i, pkg := range removed {
				if pkg.Name != tt.wantRemoved[i] {
					t.Errorf("removal[%d] = %s, want %s", i, pkg.Name, tt.wantRemoved[i])
				}
			}
		})
	}
}

func TestComputeRemovalsSize(t *testing.T) {
	// N installed, keep-set of 2, running kernel inside the keep-set:
	// exactly N-2 removals.
	installed := kernels(
		"kernel-5.14.0-570.52.1.el9_6.x86_64",
		"kernel-5.14.0-570.51.1.el9_6.x86_64",
		"kernel-5.14.0-570.49.1.el9_6.x86_64",
		"kernel-5.14.0-570.42.2.el9_6.x86_64",
		"kernel-5.14.0-570.39.1.el9_6.x86_64",
	)
	installed[0].Running = true

	removed, err := ComputeRemovals(installed, Selection{
		First:  "kernel-5.14.0-570.52.1.el9_6",
		Second: "kernel-5.14.0-570.51.1.el9_6",
	})
	if err != nil {
		t.Fatalf("ComputeRemovals() unexpected error: %v", err)
	}
	if len(removed) != len(installed)-2 {
		t.Fatalf("ComputeRemovals() removed %d packages, want %d", len(removed), len(installed)-2)
	}
	for _, pkg := range removed {
		if pkg.Running {
			t.Errorf("running kernel %s in removal set", pkg.Name)
		}
	}
}

func TestMatches(t *testing.T) {
	pkg := types.KernelPackage{Name: "kernel-5.14.0-570.52.1.el9_6.x86_64"}

	if !Matches("kernel-5.14.0-570.52.1.el9_6", pkg) {
		t.Error("identifier without arch suffix should match")
	}
	if !Matches("kernel-5.14.0-570.52.1.el9_6.x86_64", pkg) {
		t.Error("exact identifier should match")
	}
	if Matches("kernel-5.14.0-570.52.1.el9", pkg) {
		t.Error("identifier cut inside a segment should not match")
	}
	if Matches("kernel-5.14.0-570.52", pkg) {
		t.Error("truncated identifier should not match")
	}
}

func TestNewSelection(t *testing.T) {
	if _, err := NewSelection("kernel-a", ""); err == nil {
		t.Error("empty identifier should be rejected")
	}
	if _, err := NewSelection("kernel-a", "kernel-a"); err == nil {
		t.Error("duplicate identifiers should be rejected")
	}
	sel, err := NewSelection(" kernel-a ", "kernel-b")
	if err != nil {
		t.Fatalf("NewSelection() unexpected error: %v", err)
	}
	if sel.First != "kernel-a" || sel.Second != "kernel-b" {
		t.Errorf("NewSelection() = %+v, identifiers not trimmed", sel)
	}

	sel, err = NewSelection("5.14.0-570.52.1.el9_6", "kernel-5.14.0-570.51.1.el9_6")
	if err != nil {
		t.Fatalf("NewSelection() unexpected error: %v", err)
	}
	if sel.First != "kernel-5.14.0-570.52.1.el9_6" {
		t.Errorf("NewSelection() = %+v, bare version not normalized", sel)
	}
}
