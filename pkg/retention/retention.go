package retention

import (
	"fmt"
	"strings"

	"github.com/fleetpatch/fleetpatch/pkg/types"
)

// Selection is the pair of kernel identifiers the operator keeps installed.
type Selection struct {
	First  string
	Second string
}

// NewSelection validates and builds a keep-set from two identifiers.
func NewSelection(first, second string) (Selection, error) {
	first = strings.TrimSpace(first)
	second = strings.TrimSpace(second)
	if first == "" || second == "" {
		return Selection{}, fmt.Errorf("keep-set requires exactly two kernel identifiers")
	}
	if first == second {
		return Selection{}, fmt.Errorf("keep-set identifiers must differ: %s", first)
	}
	// operators pass either a bare version or the full package name
	if !strings.HasPrefix(first, "kernel-") {
		first = "kernel-" + first
	}
	if !strings.HasPrefix(second, "kernel-") {
		second = "kernel-" + second
	}
	return Selection{First: first, Second: second}, nil
}

// Identifiers returns the keep-set members in input order.
func (s Selection) Identifiers() []string {
	return []string{s.First, s.Second}
}

// Newer returns the higher of the two kept kernel versions, the one the
// boot loader default is pointed at.
func (s Selection) Newer() string {
	return Higher(s.First, s.Second)
}

// Matches reports whether the keep identifier resolves to the installed
// package. Identifiers usually omit the arch suffix, so an exact match
// counts, as does a match with exactly one trailing segment (the arch)
// left off. Anything truncated deeper than that is ambiguous and does
// not match.
func Matches(id string, pkg types.KernelPackage) bool {
	if id == pkg.Name {
		return true
	}
	if !strings.HasPrefix(pkg.Name, id+".") {
		return false
	}
	rest := pkg.Name[len(id)+1:]
	return !strings.Contains(rest, ".")
}

// InvalidSelectionError means a keep identifier matched nothing in a
// host's installed set. Installed sets differ across a fleet, so this is
// raised per host.
type InvalidSelectionError struct {
	Identifier string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("kept kernel %q does not match any installed package", e.Identifier)
}

// ComputeRemovals returns installed minus the keep-set, in installed
// order. The currently running kernel is never part of the result, even
// when it is absent from the keep-set: removing the booted kernel before
// the reboot would destroy the only known-good boot state.
func ComputeRemovals(installed []types.KernelPackage, keep Selection) ([]types.KernelPackage, error) {
	for _, id := range keep.Identifiers() {
		var found bool
		for _, pkg := range installed {
			if Matches(id, pkg) {
				found = true
				break
			}
		}
		if !found {
			return nil, &InvalidSelectionError{Identifier: id}
		}
	}

	removals := []types.KernelPackage{}
	for _, pkg := range installed {
		if pkg.Running {
			continue
		}
		var kept bool
		for _, id := range keep.Identifiers() {
			if Matches(id, pkg) {
				kept = true
				break
			}
		}
		if !kept {
			removals = append(removals, pkg)
		}
	}
	return removals, nil
}
