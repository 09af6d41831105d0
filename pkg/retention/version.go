package retention

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kernel package identifiers look like kernel-5.14.0-570.52.1.el9_6: a
// "kernel-" prefix, a base version, and an RPM release tail. Plain string
// ordering gets these wrong (5.9 sorts above 5.14), so the base version is
// compared as a version and the release tail segment-wise with numeric
// segments compared as integers.

// Compare orders two kernel identifiers. It returns -1, 0 or 1.
func Compare(a, b string) int {
	av, ar := splitEVR(a)
	bv, br := splitEVR(b)

	if c := compareVersion(av, bv); c != 0 {
		return c
	}
	return compareSegments(ar, br)
}

// Higher returns the newer of two kernel identifiers. On a tie the first
// argument wins.
func Higher(a, b string) string {
	if Compare(a, b) < 0 {
		return b
	}
	return a
}

// splitEVR strips the package-name prefix and splits the remainder into
// base version and release tail at the first dash.
func splitEVR(id string) (version, release string) {
	s := strings.TrimPrefix(id, "kernel-")
	if i := strings.Index(s, "-"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func compareVersion(a, b string) int {
	av, aerr := semver.NewVersion(a)
	bv, berr := semver.NewVersion(b)
	if aerr == nil && berr == nil {
		return av.Compare(bv)
	}
	return compareSegments(a, b)
}

// compareSegments compares dot/underscore separated segments. Numeric
// pairs compare as integers, and a numeric segment ranks above an
// alphabetic one, matching rpm's vercmp behavior.
func compareSegments(a, b string) int {
	as := splitSegments(a)
	bs := splitSegments(b)

	for i := 0; i < len(as) && i < len(bs); i++ {
		anum, bnum := isNumeric(as[i]), isNumeric(bs[i])
		switch {
		case anum && bnum:
			x, _ := strconv.Atoi(as[i])
			y, _ := strconv.Atoi(bs[i])
			if x != y {
				if x < y {
					return -1
				}
				return 1
			}
		case anum != bnum:
			if bnum {
				return -1
			}
			return 1
		case as[i] != bs[i]:
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}

func splitSegments(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
