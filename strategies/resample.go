package strategies

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeframe accepts "15m", "15min", "1h", "4h", "1d" or a plain number of minutes.
func ParseTimeframe(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	unit := time.Minute
	switch {
	case strings.HasSuffix(s, "min"):
		s = strings.TrimSuffix(s, "min")
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "h"):
		s, unit = strings.TrimSuffix(s, "h"), time.Hour
	case strings.HasSuffix(s, "d"):
		s, unit = strings.TrimSuffix(s, "d"), 24*time.Hour
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported timeframe: %q", s)
	}
	return time.Duration(n) * unit, nil
}

// Resample aggregates bars into epoch-aligned UTC buckets of width tf: open first,
// high max, low min, close last, volume summed. Input must be in timestamp order.
func Resample(bars []Bar, tf time.Duration) ([]Bar, error) {
	dstMs := tf.Milliseconds()
	if dstMs <= 0 {
		return nil, fmt.Errorf("invalid timeframe %s", tf)
	}
	if src := DetectCadence(bars); src > 0 && dstMs%src != 0 {
		return nil, fmt.Errorf("timeframe %s is not a multiple of source cadence %s", tf, time.Duration(src)*time.Millisecond)
	}

	out := make([]Bar, 0, len(bars)/2+1)
	for _, b := range bars {
		bucket := (b.Timestamp / dstMs) * dstMs
		if n := len(out); n > 0 && out[n-1].Timestamp == bucket {
			agg := &out[n-1]
			if b.High.GreaterThan(agg.High) {
				agg.High = b.High
			}
			if b.Low.LessThan(agg.Low) {
				agg.Low = b.Low
			}
			agg.Close = b.Close
			agg.Volume = agg.Volume.Add(b.Volume)
			continue
		}
		nb := b
		nb.Timestamp = bucket
		out = append(out, nb)
	}
	return out, nil
}
