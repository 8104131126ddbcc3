package entitlement

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/jobads/internal/catalog"
)

// DefaultOffset is the civil UTC offset of the reference deployment (KST).
const DefaultOffset = catalog.DefaultDayOffset

// QuotaDay maps instants onto civil days at a fixed UTC offset. The host's
// local zone is never consulted; the zero value uses DefaultOffset.
type QuotaDay struct {
	loc *time.Location
}

// NewQuotaDay returns a QuotaDay for the given offset east of UTC.
func NewQuotaDay(offset time.Duration) QuotaDay {
	name := "UTC" + FormatOffset(offset)
	return QuotaDay{loc: time.FixedZone(name, int(offset/time.Second))}
}

func (q QuotaDay) location() *time.Location {
	if q.loc == nil {
		return NewQuotaDay(DefaultOffset).loc
	}
	return q.loc
}

// Start returns the absolute instant of the civil midnight that begins the
// quota day containing now.
func (q QuotaDay) Start(now time.Time) time.Time {
	civil := now.In(q.location())
	y, m, d := civil.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, q.location()).UTC()
}

// End returns the instant the quota day containing now ends (the next Start).
func (q QuotaDay) End(now time.Time) time.Time {
	civil := now.In(q.location())
	y, m, d := civil.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, q.location()).UTC()
}

// Key returns the civil date containing now as YYYY-MM-DD.
func (q QuotaDay) Key(now time.Time) string {
	return now.In(q.location()).Format("2006-01-02")
}

// ParseOffset parses "+09:00", "-05:30", "+9" or "UTC" into an offset.
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "UTC"))
	if s == "" || s == "Z" {
		return 0, nil
	}

	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	default:
		return 0, fmt.Errorf("offset %q must start with + or -", s)
	}

	hh, mm, hasMinutes := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return 0, fmt.Errorf("invalid offset hours %q", hh)
	}
	m := 0
	if hasMinutes {
		m, err = strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("invalid offset minutes %q", mm)
		}
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

// FormatOffset renders an offset as "+09:00".
func FormatOffset(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return fmt.Sprintf("%s%02d:%02d", sign, h, m)
}
