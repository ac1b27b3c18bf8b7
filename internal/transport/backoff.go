package transport

import "time"

// Backoff возвращает задержку перед попыткой переподключения attempt:
// min(max, base * 2^attempt).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
