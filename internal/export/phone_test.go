package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		want  string
		valid bool
	}{
		{"07911 123456", "+07911123456", true},
		{"+44 7911 123-456", "+447911123456", true},
		{"(020) 7946-0958", "+02079460958", true},
		{"+15551234567", "+15551234567", true},
		{"\t+1 555 123 4567 ", "+15551234567", true},
		{"12345", "+12345", false},
		{"+1234", "+1234", false},
		{"", "", false},
		{"   ", "", false},
		{"+4479111", "+4479111", true}, // exactly the minimum length
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		assert.Equal(t, tc.valid, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
