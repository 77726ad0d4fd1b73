package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1500", 150000},
		{"1500.00", 150000},
		{"1500.5", 150050},
		{"0.01", 1},
		{".50", 50},
		{" 25.00 ", 2500},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := ParseCents(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseCentsRejects(t *testing.T) {
	for _, in := range []string{"", "-1", "-0.01", "1.001", "abc", "1.2.3", "1,500"} {
		_, err := ParseCents(in)
		assert.Error(t, err, in)
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "1500.00", FormatCents(150000))
	assert.Equal(t, "1500.50", FormatCents(150050))
	assert.Equal(t, "0.01", FormatCents(1))
	assert.Equal(t, "0.00", FormatCents(0))
	assert.Equal(t, "-12.34", FormatCents(-1234))
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 150000, 4_999_999} {
		got, err := ParseCents(FormatCents(cents))
		require.NoError(t, err)
		assert.Equal(t, cents, got)
	}
}
