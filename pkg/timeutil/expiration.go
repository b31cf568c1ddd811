// Package timeutil computes TTLs that end on period boundaries, so entries
// written at different times of a period expire together.
package timeutil

import "time"

// Defaults used when a period length is not positive.
const (
	DefaultMinutes = 10
	DefaultHours   = 1
	DefaultDays    = 1
)

// Clock returns the current time. Expirations read wall clock fields from
// it, so it should return UTC.
type Clock func() time.Time

// UTC is the default clock.
func UTC() time.Time {
	return time.Now().UTC()
}

// Expirations computes period aligned TTLs against a clock.
type Expirations struct {
	now Clock
}

// New returns Expirations reading time from now; nil means UTC.
func New(now Clock) Expirations {
	if now == nil {
		now = UTC
	}
	return Expirations{now: now}
}

var std = New(UTC)

// Minute returns the time left until the next boundary of a minutes long
// period that starts minuteOffset minutes into the hour. Within the first
// period of the hour only whole minutes count as elapsed.
func (e Expirations) Minute(minutes, minuteOffset int) time.Duration {
	if minutes <= 0 {
		minutes = DefaultMinutes
	}
	now := e.now()
	minute, second := now.Minute(), now.Second()

	var elapsed int
	if minute < minutes+minuteOffset {
		elapsed = minute * 60
	} else {
		elapsed = (minute%minutes)*60 + second
	}
	return seconds((minutes+minuteOffset)*60 - elapsed)
}

// Hour returns the time left until the next boundary of an hours long period
// shifted by hourOffset hours and minuteOffset minutes.
func (e Expirations) Hour(hours, hourOffset, minuteOffset int) time.Duration {
	if hours <= 0 {
		hours = DefaultHours
	}
	now := e.now()
	elapsed := (now.Hour()%hours)*3600 + now.Minute()*60 + now.Second()
	return seconds((hours+hourOffset)*3600 + minuteOffset*60 - elapsed)
}

// Day returns the time left until the next boundary of a days long period
// shifted by the given offsets. Periods are counted from the day of month.
func (e Expirations) Day(days, dayOffset, hourOffset, minuteOffset int) time.Duration {
	if days <= 0 {
		days = DefaultDays
	}
	now := e.now()
	elapsed := (now.Day()%days)*86400 + now.Hour()*3600 + now.Minute()*60 + now.Second()
	return seconds((days+dayOffset)*86400 + hourOffset*3600 + minuteOffset*60 - elapsed)
}

// MinuteExpiration is Minute on the UTC clock.
func MinuteExpiration(minutes, minuteOffset int) time.Duration {
	return std.Minute(minutes, minuteOffset)
}

// HourExpiration is Hour on the UTC clock.
func HourExpiration(hours, hourOffset, minuteOffset int) time.Duration {
	return std.Hour(hours, hourOffset, minuteOffset)
}

// DayExpiration is Day on the UTC clock.
func DayExpiration(days, dayOffset, hourOffset, minuteOffset int) time.Duration {
	return std.Day(days, dayOffset, hourOffset, minuteOffset)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
