// Package market knows the NSE/BSE cash session in India Standard Time.
package market

import (
	"fmt"
	"time"
)

// Schedule is the regular session, in IST
type Schedule struct {
	OpenHour  int // 9
	OpenMin   int // 15
	CloseHour int // 15
	CloseMin  int // 30
}

// DefaultSchedule is the NSE/BSE equity session
func DefaultSchedule() Schedule {
	return Schedule{
		OpenHour:  9,
		OpenMin:   15,
		CloseHour: 15,
		CloseMin:  30,
	}
}

// Status describes the session at a point in time
type Status struct {
	IsOpen      bool
	Now         time.Time // in IST
	OpenTime    time.Time
	CloseTime   time.Time
	TimeToOpen  time.Duration
	TimeToClose time.Duration
	Reason      string // "open", "weekend", "holiday", "pre-open", "post-close"
}

var ist = loadIST()

func loadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// Location returns Asia/Kolkata
func Location() *time.Location {
	return ist
}

func (s Schedule) openOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.OpenHour, s.OpenMin, 0, 0, ist)
}

func (s Schedule) closeOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.CloseHour, s.CloseMin, 0, 0, ist)
}

// IsTradingDay reports whether the IST calendar day of t is a weekday that is
// not an exchange holiday
func IsTradingDay(t time.Time) bool {
	t = t.In(ist)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsHoliday(t)
}

// StatusAt returns the session status at t
func (s Schedule) StatusAt(t time.Time) Status {
	now := t.In(ist)
	status := Status{
		Now:       now,
		OpenTime:  s.openOn(now),
		CloseTime: s.closeOn(now),
	}

	switch {
	case now.Weekday() == time.Saturday || now.Weekday() == time.Sunday:
		status.Reason = "weekend"
	case IsHoliday(now):
		status.Reason = "holiday"
	case now.Before(status.OpenTime):
		status.Reason = "pre-open"
	case !now.Before(status.CloseTime):
		status.Reason = "post-close"
	default:
		status.IsOpen = true
		status.Reason = "open"
		status.TimeToClose = status.CloseTime.Sub(now)
		return status
	}

	status.TimeToOpen = s.NextOpen(now).Sub(now)
	return status
}

// NextOpen returns the next session open strictly after t, or today's open
// when t is before it on a trading day
func (s Schedule) NextOpen(t time.Time) time.Time {
	now := t.In(ist)
	day := now
	if IsTradingDay(day) && now.Before(s.openOn(day)) {
		return s.openOn(day)
	}
	for i := 0; i < 14; i++ {
		day = day.AddDate(0, 0, 1)
		if IsTradingDay(day) {
			return s.openOn(day)
		}
	}
	return s.openOn(day)
}

// IsOpen reports whether the regular session is open at t
func (s Schedule) IsOpen(t time.Time) bool {
	return s.StatusAt(t).IsOpen
}

// IsOpenNow uses the default schedule and the wall clock
func IsOpenNow() bool {
	return DefaultSchedule().IsOpen(time.Now())
}

// FormatDuration renders d as "3h 5m" or "12m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// NSE trading holidays (equity segment)
var holidays = map[string]bool{
	"2025-02-26": true, // Mahashivratri
	"2025-03-14": true, // Holi
	"2025-03-31": true, // Id-Ul-Fitr
	"2025-04-10": true, // Mahavir Jayanti
	"2025-04-14": true, // Ambedkar Jayanti
	"2025-04-18": true, // Good Friday
	"2025-05-01": true, // Maharashtra Day
	"2025-08-15": true, // Independence Day
	"2025-08-27": true, // Ganesh Chaturthi
	"2025-10-02": true, // Gandhi Jayanti / Dussehra
	"2025-10-21": true, // Diwali Laxmi Pujan
	"2025-10-22": true, // Balipratipada
	"2025-11-05": true, // Guru Nanak Jayanti
	"2025-12-25": true, // Christmas

	"2026-01-26": true, // Republic Day
	"2026-03-03": true, // Holi
	"2026-03-26": true, // Ram Navami
	"2026-03-31": true, // Mahavir Jayanti
	"2026-04-03": true, // Good Friday
	"2026-04-14": true, // Ambedkar Jayanti
	"2026-05-01": true, // Maharashtra Day
	"2026-05-28": true, // Bakri Id
	"2026-06-26": true, // Muharram
	"2026-09-14": true, // Ganesh Chaturthi
	"2026-10-02": true, // Gandhi Jayanti
	"2026-10-20": true, // Dussehra
	"2026-11-10": true, // Diwali Balipratipada
	"2026-11-24": true, // Guru Nanak Jayanti
	"2026-12-25": true, // Christmas
}

// IsHoliday checks the exchange holiday list for the IST date of t
func IsHoliday(t time.Time) bool {
	return holidays[t.In(ist).Format("2006-01-02")]
}
