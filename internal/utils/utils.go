// Package utils provides small formatting helpers shared by the miner's
// rendering and logging paths.
package utils

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var slugifyNonAlnum = regexp.MustCompile(`[^a-z0-9-]+`)

var slugifyMultiHyphen = regexp.MustCompile(`-{2,}`)

// Slugify converts a game display name to a directory-style slug, used as a
// fallback when the API does not report one.
// For example: "Tom Clancy's Rainbow Six Siege" → "tom-clancys-rainbow-six-siege".
func Slugify(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "") // right single quotation mark
	s = strings.ReplaceAll(s, "‘", "") // left single quotation mark
	s = slugifyNonAlnum.ReplaceAllString(s, "-")
	s = slugifyMultiHyphen.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return s
}

// Millify converts a number to a human-readable string with SI suffixes.
// For example: 1000 -> "1K", 1500000 -> "1.5M". Used for viewer counts and
// points balances.
func Millify(n int, precision int) string {
	if precision < 0 {
		precision = 2
	}

	abs := math.Abs(float64(n))
	sign := ""
	if n < 0 {
		sign = "-"
	}

	suffixes := []struct {
		threshold float64
		suffix    string
	}{
		{1e15, "Q"},
		{1e12, "T"},
		{1e9, "B"},
		{1e6, "M"},
		{1e3, "K"},
	}

	for _, s := range suffixes {
		if abs >= s.threshold {
			val := abs / s.threshold
			formatted := formatFloat(val, precision)
			return sign + formatted + s.suffix
		}
	}

	return fmt.Sprintf("%d", n)
}

func formatFloat(f float64, precision int) string {
	s := fmt.Sprintf("%.*f", precision, f)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// Percentage calculates the integer percentage of a/b.
// Returns 0 if a or b is 0.
func Percentage(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return int((float64(a) / float64(b)) * 100)
}

// FormatMinutes renders a minute count as "1h23m" / "45m" for status lines.
func FormatMinutes(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}
