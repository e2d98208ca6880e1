package engine

import (
	"fmt"
	"time"
)

// The in-game day rolls over at 04:00 local time, not midnight.
const dayCutoverHours = 4

// TaskDay returns the task-day containing t as "2006-01-02". Instants
// before 04:00 still belong to the previous calendar day.
func TaskDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Add(-dayCutoverHours * time.Hour).Format("2006-01-02")
}

// ISOWeek returns the ISO-8601 year, week number and day of week
// (1=Monday .. 7=Sunday) for t.
func ISOWeek(t time.Time, loc *time.Location) (year, week, day int) {
	lt := t.In(loc)
	year, week = lt.ISOWeek()
	day = int(lt.Weekday())
	if day == 0 {
		day = 7
	}
	return year, week, day
}

// WeekKey formats the ISO week containing t as "2024-W10".
func WeekKey(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%d", year, week)
}

// weekStart returns Monday 00:00 of the ISO week containing t.
func weekStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	day := int(lt.Weekday())
	if day == 0 {
		day = 7
	}
	return time.Date(lt.Year(), lt.Month(), lt.Day()-(day-1), 0, 0, 0, 0, loc)
}
