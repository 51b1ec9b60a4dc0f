package auction

import "time"

// WindowStart floors now to a multiple of windowMinutes since the Unix epoch.
// It is pure: submission and clearing run as separate processes and must agree
// on boundaries.
func WindowStart(now time.Time, windowMinutes int) time.Time {
	size := windowLength(windowMinutes).Nanoseconds()
	ns := now.UnixNano()

	rem := ns % size
	if rem < 0 {
		rem += size
	}

	return time.Unix(0, ns-rem).UTC()
}

// BoostTiming returns the boost interval funded by bids in the window starting
// at windowStart. The boost begins at the next window boundary, after bidding
// for it has closed.
func BoostTiming(windowStart time.Time, windowMinutes, durationMinutes int) (startsAt, endsAt time.Time) {
	startsAt = NextWindowStart(windowStart, windowMinutes)
	endsAt = startsAt.Add(time.Duration(durationMinutes) * time.Minute)
	return startsAt, endsAt
}

// NextWindowStart returns the start of the window following windowStart.
func NextWindowStart(windowStart time.Time, windowMinutes int) time.Time {
	return windowStart.Add(windowLength(windowMinutes)).UTC()
}

// DueWindowStart returns the most recent window that has closed at now.
func DueWindowStart(now time.Time, windowMinutes int) time.Time {
	return WindowStart(now, windowMinutes).Add(-windowLength(windowMinutes))
}

func windowLength(windowMinutes int) time.Duration {
	if windowMinutes < 1 {
		windowMinutes = 1
	}
	return time.Duration(windowMinutes) * time.Minute
}
