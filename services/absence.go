package services

import (
	"time"

	"github.com/phonginreallife/autoanswer/db"
)

// EvaluateAbsence returns the first active window in windows that covers
// now, or nil. Resolution is first-match in the given order, not
// best-match. now must already be in the business timezone.
func EvaluateAbsence(now time.Time, windows []db.AbsenceWindow) *db.AbsenceWindow {
	for i := range windows {
		if !windows[i].IsActive {
			continue
		}
		if WindowCovers(windows[i], now) {
			return &windows[i]
		}
	}
	return nil
}

// WindowCovers reports whether w applies at now.
//
// A weekdays-only window covers all of Saturday and Sunday regardless
// of its times. Otherwise the time of day must fall in [Start, End];
// when Start > End the span wraps midnight. Start == End covers only
// that exact second.
func WindowCovers(w db.AbsenceWindow, now time.Time) bool {
	if w.WeekdaysOnly && isWeekend(now) {
		return true
	}

	tod := db.TimeOfDayOf(now)
	if w.Start <= w.End {
		return w.Start <= tod && tod <= w.End
	}
	return tod >= w.Start || tod <= w.End
}

func isWeekend(t time.Time) bool {
	day := t.Weekday()
	return day == time.Saturday || day == time.Sunday
}
