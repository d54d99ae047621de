package cmd

import "testing"

func TestTruncateID(t *testing.T) {
	tests := []struct {
		id   string
		max  int
		want string
	}{
		{"xp-a1b2c3d4", 16, "xp-a1b2c3d4"},
		{"xp-a1b2c3d4", 11, "xp-a1b2c3d4"},
		{"xp-a1b2c3d4e5f6a7b8", 16, "xp-a1b2c3d4e5..."},
		{"", 10, ""},
		{"abcdef", 6, "abcdef"},
		{"abcdefg", 6, "abc..."},
	}

	for _, tt := range tests {
		got := truncateID(tt.id, tt.max)
		if got != tt.want {
			t.Errorf("truncateID(%q, %d) = %q, want %q", tt.id, tt.max, got, tt.want)
		}
	}
}
