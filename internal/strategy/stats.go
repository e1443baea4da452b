package strategy

import (
	"math"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// tail returns the last n bars, or all of them when fewer exist.
func tail(bars []domain.Bar, n int) []domain.Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

// rangePosition places the last close within the window's high/low range.
// ok is false for an empty or flat window.
func rangePosition(window []domain.Bar) (pos float64, ok bool) {
	if len(window) == 0 {
		return 0, false
	}
	high, low := window[0].High, window[0].Low
	for _, b := range window[1:] {
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}
	if high <= low {
		return 0, false
	}
	last := window[len(window)-1].Close
	return math.Min(math.Max((last-low)/(high-low), 0), 1), true
}

// meanStdDev returns the mean and population standard deviation of closes.
func meanStdDev(window []domain.Bar) (mean, sd float64) {
	if len(window) == 0 {
		return 0, 0
	}
	var sum float64
	for _, b := range window {
		sum += b.Close
	}
	mean = sum / float64(len(window))
	if len(window) < 2 {
		return mean, 0
	}
	var variance float64
	for _, b := range window {
		d := b.Close - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(window)))
}
