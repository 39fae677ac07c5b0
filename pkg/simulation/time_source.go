package simulation

import "time"

// TimeSource is a monotonic high resolution clock. Values are only meaningful relative to
// other values from the same source.
type TimeSource interface {
	Now() time.Duration
}

type monotonicTimeSource struct {
	start time.Time
}

// CreateMonotonicTimeSource should be called once at process start and threaded through to
// everything that needs timestamps.
func CreateMonotonicTimeSource() TimeSource {
	return &monotonicTimeSource{start: time.Now()}
}

func (s *monotonicTimeSource) Now() time.Duration {
	return time.Since(s.start)
}
