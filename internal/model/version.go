package model

import (
	"strconv"
	"strings"
)

// VersionNewer reports whether next is strictly newer than current.
// Versions compare as dotted integer vectors with the shorter side padded
// with zeros, so "1.0" and "1.0.0" are equal. When either side does not
// parse as dotted integers, plain string ordering is the fallback.
func VersionNewer(next, current string) bool {
	np, nok := parseVersion(next)
	cp, cok := parseVersion(current)
	if !nok || !cok {
		return next > current
	}
	for len(np) < len(cp) {
		np = append(np, 0)
	}
	for len(cp) < len(np) {
		cp = append(cp, 0)
	}
	for i := range np {
		if np[i] != cp[i] {
			return np[i] > cp[i]
		}
	}
	return false
}

func parseVersion(s string) ([]int, bool) {
	parts := strings.Split(s, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
