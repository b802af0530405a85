package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Rust", "rust"},
		{"Sea of Thieves", "sea-of-thieves"},
		{"Tom Clancy's Rainbow Six Siege", "tom-clancys-rainbow-six-siege"},
		{"Teamfight Tactics: Set 10", "teamfight-tactics-set-10"},
		{"  spaced  out  ", "spaced-out"},
		{"Café & Crème", "caf-cr-me"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.name), tt.name)
	}
}

func TestMillify(t *testing.T) {
	tests := []struct {
		n         int
		precision int
		want      string
	}{
		{0, 1, "0"},
		{999, 1, "999"},
		{1000, 1, "1K"},
		{1500, 1, "1.5K"},
		{1500000, 1, "1.5M"},
		{2000000000, 1, "2B"},
		{-1500, 1, "-1.5K"},
		{1234, 0, "1K"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Millify(tt.n, tt.precision))
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(0, 100))
	assert.Equal(t, 0, Percentage(50, 0))
	assert.Equal(t, 50, Percentage(30, 60))
	assert.Equal(t, 100, Percentage(60, 60))
}

func TestFormatMinutes(t *testing.T) {
	assert.Equal(t, "0m", FormatMinutes(0))
	assert.Equal(t, "45m", FormatMinutes(45))
	assert.Equal(t, "1h00m", FormatMinutes(60))
	assert.Equal(t, "1h23m", FormatMinutes(83))
	assert.Equal(t, "2h05m", FormatMinutes(125))
}
