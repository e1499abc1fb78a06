package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// sizeUnits are binary multiples, largest first so "MB" wins over "B".
var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize parses a size such as "25GB", "1.5 MB" or "512KiB" into bytes.
// Units are binary and case-insensitive; a bare number is bytes. Anything
// FormatSize prints parses back to within its rounding.
func ParseSize(s string) (int64, error) {
	in := s
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	mult := int64(1)
	for _, u := range sizeUnits {
		if trimmed, ok := cutUnit(s, u.suffix); ok {
			s, mult = trimmed, u.mult
			break
		}
	}
	if s == "" {
		return 0, fmt.Errorf("missing number in size %q", in)
	}

	if !strings.ContainsAny(s, ".eE") {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", in, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative size %q", in)
		}
		if n > math.MaxInt64/mult {
			return 0, fmt.Errorf("size %q overflows", in)
		}
		return n * mult, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", in, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative size %q", in)
	}
	v := f * float64(mult)
	if v >= math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows", in)
	}
	return int64(math.Round(v)), nil
}

// cutUnit strips suffix, or its IEC spelling ("KIB" for "KB"), and any
// space before it.
func cutUnit(s, suffix string) (string, bool) {
	if suffix != "B" {
		if iec := suffix[:1] + "IB"; strings.HasSuffix(s, iec) {
			return strings.TrimSpace(strings.TrimSuffix(s, iec)), true
		}
	}
	if strings.HasSuffix(s, suffix) {
		return strings.TrimSpace(strings.TrimSuffix(s, suffix)), true
	}
	return s, false
}

// FormatSize renders n bytes with the largest unit that keeps the value at
// or above 1, with one decimal place.
func FormatSize(n int64) string {
	v := float64(n)
	i := len(sizeUnits) - 1
	for i > 0 && math.Abs(v) >= 1024 {
		v /= 1024
		i--
	}
	if i == len(sizeUnits)-1 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f %s", v, sizeUnits[i].suffix)
}
