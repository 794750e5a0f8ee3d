package wire

import (
	"time"

	"golang.org/x/time/rate"
)

// TransferDeadline computes the per-transfer deadline of spec §4.A:
// max(floor, length/tolerable_rate), where tolerable_rate =
// observed_rate/outlier_factor. floor is larger for forwarding workers
// than for leaf workers (the caller picks the right floor).
func TransferDeadline(length int64, observedRateBytesPerSec float64, floor time.Duration, outlierFactor float64) time.Duration {
	if observedRateBytesPerSec <= 0 || outlierFactor <= 0 {
		return floor
	}
	tolerableRate := observedRateBytesPerSec / outlierFactor
	if tolerableRate <= 0 {
		return floor
	}
	bySize := time.Duration(float64(length) / tolerableRate * float64(time.Second))
	if bySize > floor {
		return bySize
	}
	return floor
}

// Limiter shapes outbound transfer bandwidth to a global byte-per-second
// cap (spec §4.A). A nil *Limiter, or one built with limit <= 0, performs
// no shaping.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter builds a token-bucket limiter capped at bytesPerSec, with a
// burst large enough to admit one full TCP read without unnecessary
// waiting. bytesPerSec <= 0 disables shaping.
func NewLimiter(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < 64*1024 {
		burst = 64 * 1024
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Shape blocks, if necessary, so that consuming n bytes does not exceed
// the configured rate — the "bandwidth shaping: ... delays after each
// transfer" behavior of spec §4.A.
func (l *Limiter) Shape(n int) {
	if l == nil || l.rl == nil || n <= 0 {
		return
	}
	reservation := l.rl.ReserveN(time.Now(), n)
	if !reservation.OK() {
		return
	}
	time.Sleep(reservation.Delay())
}
