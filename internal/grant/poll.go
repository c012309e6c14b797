package grant

import "time"

// PollTooSoon decide el slow_down de un poll: el primero siempre se acepta;
// después, un poll antes de last+interval llega demasiado pronto.
func PollTooSoon(last *time.Time, interval int64, now time.Time) bool {
	if last == nil || interval <= 0 {
		return false
	}
	return now.Unix()-last.Unix() < interval
}
