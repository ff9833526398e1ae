package core

import "testing"

func TestFormatVersion(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"v1.2.0", "1.2.0"},
		{"devel", "devel"},
		{"devel-ad721b3", "devel-ad721b3"},
		{"", ""},
	}
	for _, c := range cases {
		if got := FormatVersion(c.in); got != c.want {
			t.Errorf("FormatVersion(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
