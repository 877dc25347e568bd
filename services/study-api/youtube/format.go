package youtube

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationPattern  = regexp.MustCompile(`PT(\d+H)?(\d+M)?(\d+S)?`)
	leadingIntRegexp = regexp.MustCompile(`^\s*[+-]?\d+`)
)

// FormatDuration renders an ISO-8601 duration token as H:MM:SS, or MM:SS when
// there is no hour component.
func FormatDuration(iso string) string {
	match := durationPattern.FindStringSubmatch(iso)
	if match == nil {
		return "0:00"
	}

	hours := strings.TrimSuffix(match[1], "H")
	minutes := strings.TrimSuffix(match[2], "M")
	seconds := strings.TrimSuffix(match[3], "S")

	var b strings.Builder
	if hours != "" {
		b.WriteString(hours)
		b.WriteString(":")
	}
	b.WriteString(padLeft(minutes, 2))
	b.WriteString(":")
	b.WriteString(padLeft(seconds, 2))
	return b.String()
}

// FormatViews abbreviates a view count: millions with one decimal, thousands
// with two, anything smaller unchanged.
func FormatViews(viewCount string) string {
	raw := leadingIntRegexp.FindString(viewCount)
	if raw == "" {
		return viewCount
	}
	count, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return viewCount
	}

	switch {
	case count >= 1_000_000:
		return toFixed(float64(count)/1_000_000, 1) + "M"
	case count >= 1_000:
		return toFixed(float64(count)/1_000, 2) + "K"
	default:
		return viewCount
	}
}

// FormatPublishedAt humanizes the distance between publishedAt and now in
// whole days, rounded up. Week, month and year buckets use floor division.
func FormatPublishedAt(publishedAt string, now time.Time) string {
	published, err := time.Parse(time.RFC3339, publishedAt)
	if err != nil {
		return ""
	}
	return FormatRecency(published, now)
}

func FormatRecency(published, now time.Time) string {
	diff := now.Sub(published)
	if diff < 0 {
		diff = -diff
	}
	days := int64(math.Ceil(float64(diff.Milliseconds()) / float64(24*time.Hour/time.Millisecond)))

	switch {
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case days < 30:
		return fmt.Sprintf("%d weeks ago", days/7)
	case days < 365:
		return fmt.Sprintf("%d months ago", days/30)
	default:
		return fmt.Sprintf("%d years ago", days/365)
	}
}

// toFixed formats a non-negative x with the given number of decimals, rounding
// half away from zero on the exact binary value of x.
func toFixed(x float64, digits int) string {
	const prec = 256
	scaled := new(big.Float).SetPrec(prec).SetFloat64(x)
	scaled.Mul(scaled, new(big.Float).SetPrec(prec).SetFloat64(math.Pow10(digits)))

	whole, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(prec).Sub(scaled, new(big.Float).SetPrec(prec).SetInt(whole))
	if frac.Cmp(big.NewFloat(0.5)) >= 0 {
		whole.Add(whole, big.NewInt(1))
	}

	s := whole.String()
	if digits == 0 {
		return s
	}
	s = padLeft(s, digits+1)
	return s[:len(s)-digits] + "." + s[len(s)-digits:]
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
