package catalog

import "time"

// DefaultDayOffset is the civil UTC offset at which daily allowances reset (KST).
const DefaultDayOffset = 9 * time.Hour

// DayStart returns the instant of the civil midnight, at offset east of UTC,
// that begins the day containing t.
func DayStart(t time.Time, offset time.Duration) time.Time {
	zone := time.FixedZone("", int(offset/time.Second))
	y, m, d := t.In(zone).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, zone).UTC()
}
