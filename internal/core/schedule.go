package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClockTime validates an HH:MM wall-clock string and returns its
// hour and minute components.
func ParseClockTime(value string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid schedule time %q: want HH:MM", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid schedule time %q: %w", value, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid schedule time %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid schedule time %q: out of range", value)
	}
	return hour, minute, nil
}

// NextRun computes the next UTC instant at which a schedule fires.
// scheduleTime is HH:MM wall clock in loc (the business timezone); day is
// day-of-week 0-6 for weekly, day-of-month 1-31 for monthly, ignored for
// daily. The timezone offset is resolved at the target date, so a
// schedule computed in winter for a date past a DST transition lands on
// the intended local wall-clock time.
//
// The returned instant is strictly in the future relative to nowUTC in
// loc's wall-clock sense: a scheduled minute equal to the current minute
// counts as already passed.
func NextRun(scheduleTime string, frequency Frequency, day int, nowUTC time.Time, loc *time.Location) (time.Time, error) {
	hour, minute, err := ParseClockTime(scheduleTime)
	if err != nil {
		return time.Time{}, err
	}

	now := nowUTC.In(loc)
	scheduledMinutes := hour*60 + minute
	currentMinutes := now.Hour()*60 + now.Minute()
	timePassedToday := scheduledMinutes <= currentMinutes

	year, month, dom := now.Date()

	switch frequency {
	case FrequencyDaily:
		if timePassedToday {
			dom++
		}
	case FrequencyWeekly:
		if day < 0 || day > 6 {
			return time.Time{}, fmt.Errorf("invalid weekly schedule day %d: want 0-6", day)
		}
		daysUntil := (day - int(now.Weekday()) + 7) % 7
		if daysUntil == 0 && timePassedToday {
			daysUntil = 7
		}
		dom += daysUntil
	case FrequencyMonthly:
		if day < 1 || day > 31 {
			return time.Time{}, fmt.Errorf("invalid monthly schedule day %d: want 1-31", day)
		}
		target := clampToMonth(day, year, month)
		if dom > target || (dom == target && timePassedToday) {
			month++
			if month > time.December {
				month = time.January
				year++
			}
			target = clampToMonth(day, year, month)
		}
		dom = target
	default:
		return time.Time{}, fmt.Errorf("unknown schedule frequency %q", frequency)
	}

	// time.Date normalizes out-of-range days and evaluates loc's offset
	// at the resulting date, which is what makes the DST handling right.
	return time.Date(year, month, dom, hour, minute, 0, 0, loc).UTC(), nil
}

// clampToMonth limits a requested day-of-month to the last day of the
// given month, so day 31 in February yields February's final day.
func clampToMonth(day, year int, month time.Month) int {
	last := daysInMonth(year, month)
	if day > last {
		return last
	}
	return day
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
