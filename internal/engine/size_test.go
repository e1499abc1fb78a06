package engine

import (
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"100B", 100, false},
		{"1KB", 1024, false},
		{"1MB", 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"25GB", 25 * 1024 * 1024 * 1024, false},
		{"1TB", 1024 * 1024 * 1024 * 1024, false},
		{"500mb", 500 * 1024 * 1024, false},
		{"10gb", 10 * 1024 * 1024 * 1024, false},
		{"1024", 1024, false},
		{"1.5 MB", 1536 * 1024, false},
		{"512KiB", 512 * 1024, false},
		{" 2 gib ", 2 * 1024 * 1024 * 1024, false},
		{"0.5KB", 512, false},
		{"9999999TB", 0, true},
		{"1.2.3MB", 0, true},
		{"", 0, true},
		{"GB", 0, true},
		{"-1GB", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSize(%q) expected error, got %d", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{10 * 1024 * 1024, "10.0 MB"},
		{3 * 1024 * 1024 * 1024 * 1024, "3.0 TB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.input); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatSizeRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 700, 1536, 10 * 1024 * 1024, 5 * 1024 * 1024 * 1024} {
		s := FormatSize(n)
		got, err := ParseSize(s)
		if err != nil {
			t.Fatalf("ParseSize(FormatSize(%d) = %q) error: %v", n, s, err)
		}
		if got != n {
			t.Errorf("round trip of %d via %q = %d", n, s, got)
		}
	}
}
