package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseSelection turns job selection arguments into 1-based indices.
// Each argument may be a single index ("2"), a range ("1-3") or a list
// separated by ';' or ',' ("1;3"). Duplicates are dropped; the first
// occurrence keeps its position.
func parseSelection(args []string) ([]int, error) {
	var out []int
	seen := make(map[int]bool)
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}

	for _, arg := range args {
		parts := strings.FieldsFunc(arg, func(r rune) bool { return r == ';' || r == ',' })
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if lo, hi, ok := strings.Cut(part, "-"); ok {
				start, err := parseIndex(lo)
				if err != nil {
					return nil, err
				}
				end, err := parseIndex(hi)
				if err != nil {
					return nil, err
				}
				if end < start {
					return nil, fmt.Errorf("invalid range %q: end before start", part)
				}
				for i := start; i <= end; i++ {
					add(i)
				}
				continue
			}
			i, err := parseIndex(part)
			if err != nil {
				return nil, err
			}
			add(i)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no jobs selected")
	}
	return out, nil
}

func parseIndex(s string) (int, error) {
	s = strings.TrimSpace(s)
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid job index %q", s)
	}
	if i < 1 {
		return 0, fmt.Errorf("job index %d out of range (indices start at 1)", i)
	}
	return i, nil
}
