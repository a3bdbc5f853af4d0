// internal/services/schedule_service.go
package services

import (
	"strings"
	"time"

	"github.com/plotloom/plotloom/internal/models"
)

// ScheduleService computes publish-date slots for a month from the
// brand's cadence and preferred weekdays. Pure date math, no state.
type ScheduleService struct{}

// NewScheduleService creates a schedule service.
func NewScheduleService() *ScheduleService {
	return &ScheduleService{}
}

// DefaultPreferredDays is used when the brand sets no preference.
var DefaultPreferredDays = []time.Weekday{time.Monday, time.Wednesday, time.Friday}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekdays maps weekday names (case-insensitive) to weekdays,
// preserving order and dropping unknown names.
func ParseWeekdays(names []string) []time.Weekday {
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		if day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]; ok {
			days = append(days, day)
		}
	}
	return days
}

// WeekOfMonth returns the calendar-month week number of a date: weeks
// are Sunday-anchored rows of the month grid, so the 1st always falls
// in week 1 and a new week starts every Sunday.
func WeekOfMonth(date time.Time) int {
	firstOfMonth := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
	offset := int(firstOfMonth.Weekday())
	return (date.Day()+offset-1)/7 + 1
}

// ComputeMonthSlots returns the publish dates for every week of the
// month, at most cadence dates per week. Within a week, candidates are
// ordered by the position of their weekday in preferredDays (not
// calendar order), ties broken by day of month. cadence 0 means every
// week maps to an empty list.
func (s *ScheduleService) ComputeMonthSlots(year int, month time.Month, cadence int, preferredDays []time.Weekday) map[int][]time.Time {
	if len(preferredDays) == 0 {
		preferredDays = DefaultPreferredDays
	}

	dayRank := make(map[time.Weekday]int, len(preferredDays))
	for i, day := range preferredDays {
		if _, seen := dayRank[day]; !seen {
			dayRank[day] = i
		}
	}

	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	daysInMonth := firstOfMonth.AddDate(0, 1, -1).Day()

	// Seed every week of the month so cadence 0 still yields keys.
	lastDay := time.Date(year, month, daysInMonth, 0, 0, 0, 0, time.UTC)
	slots := make(map[int][]time.Time, WeekOfMonth(lastDay))
	for week := 1; week <= WeekOfMonth(lastDay); week++ {
		slots[week] = []time.Time{}
	}

	if cadence <= 0 {
		return slots
	}

	type candidate struct {
		date time.Time
		rank int
	}
	byWeek := make(map[int][]candidate)

	for day := 1; day <= daysInMonth; day++ {
		date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		rank, ok := dayRank[date.Weekday()]
		if !ok {
			continue
		}
		week := WeekOfMonth(date)
		byWeek[week] = append(byWeek[week], candidate{date: date, rank: rank})
	}

	for week, candidates := range byWeek {
		// Insertion sort by (preferred-day rank, day asc); candidate
		// lists are at most 7 entries.
		for i := 1; i < len(candidates); i++ {
			for j := i; j > 0; j-- {
				a, b := candidates[j-1], candidates[j]
				if b.rank < a.rank || (b.rank == a.rank && b.date.Day() < a.date.Day()) {
					candidates[j-1], candidates[j] = b, a
				} else {
					break
				}
			}
		}

		limit := cadence
		if limit > len(candidates) {
			limit = len(candidates)
		}
		dates := make([]time.Time, 0, limit)
		for _, c := range candidates[:limit] {
			dates = append(dates, c.date)
		}
		slots[week] = dates
	}

	return slots
}

// BuildSlots expands publish dates into (date, channel) content slots.
// A per-weekday override replaces the default channel set for dates
// falling on that weekday.
func (s *ScheduleService) BuildSlots(dates []time.Time, defaultChannels []string, overrides map[time.Weekday][]string) []models.ContentSlot {
	var slots []models.ContentSlot
	for _, date := range dates {
		channels := defaultChannels
		if override, ok := overrides[date.Weekday()]; ok && len(override) > 0 {
			channels = override
		}
		for _, channel := range channels {
			slots = append(slots, models.ContentSlot{
				Date:    date.Format("2006-01-02"),
				Channel: channel,
			})
		}
	}
	return slots
}

// MonthSlots flattens ComputeMonthSlots for a whole month into an
// ordered slot list, weeks ascending.
func (s *ScheduleService) MonthSlots(year int, month time.Month, cadence int, preferredDays []time.Weekday, defaultChannels []string, overrides map[time.Weekday][]string) []models.ContentSlot {
	weeks := s.ComputeMonthSlots(year, month, cadence, preferredDays)

	maxWeek := 0
	for week := range weeks {
		if week > maxWeek {
			maxWeek = week
		}
	}

	var slots []models.ContentSlot
	for week := 1; week <= maxWeek; week++ {
		slots = append(slots, s.BuildSlots(weeks[week], defaultChannels, overrides)...)
	}
	return slots
}
