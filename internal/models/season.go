// internal/models/season.go
package models

import (
	"fmt"
	"time"
)

// LevelKind identifies one level of the narrative hierarchy.
type LevelKind string

const (
	LevelTheme LevelKind = "theme"
	LevelPlot  LevelKind = "plot"
	LevelWeek  LevelKind = "week"
)

// NarrativeLevel is a tagged reference to a single level of the
// theme -> plot -> week1..4 chain. Week is only meaningful when
// Kind == LevelWeek.
type NarrativeLevel struct {
	Kind LevelKind `json:"kind"`
	Week int       `json:"week,omitempty"`
}

// ThemeLevel references the monthly theme level.
func ThemeLevel() NarrativeLevel { return NarrativeLevel{Kind: LevelTheme} }

// PlotLevel references the monthly plot level.
func PlotLevel() NarrativeLevel { return NarrativeLevel{Kind: LevelPlot} }

// WeekLevel references the subplot level for week n (1..4).
func WeekLevel(n int) NarrativeLevel { return NarrativeLevel{Kind: LevelWeek, Week: n} }

// Valid reports whether the level reference is well formed.
func (l NarrativeLevel) Valid() bool {
	switch l.Kind {
	case LevelTheme, LevelPlot:
		return true
	case LevelWeek:
		return l.Week >= 1 && l.Week <= WeeksPerSeason
	}
	return false
}

func (l NarrativeLevel) String() string {
	if l.Kind == LevelWeek {
		return fmt.Sprintf("week %d", l.Week)
	}
	return string(l.Kind)
}

// WeeksPerSeason is the number of weekly subplots in one season plan.
const WeeksPerSeason = 4

// WeekPlan holds the narrative for one week of a season.
type WeekPlan struct {
	Week           int    `json:"week"` // 1..4
	Subplot        string `json:"subplot"`
	SubplotPerfect bool   `json:"subplot_perfect"`
	CustomTheme    string `json:"custom_theme,omitempty"`
}

// SeasonPlan is the per-brand, per-calendar-month narrative record:
// one theme, one monthly plot and four weekly subplots, each level
// carrying a user-approved "perfect" flag that exempts it from
// regeneration and gates the level below it.
type SeasonPlan struct {
	BrandID string `json:"brand_id"`
	Month   string `json:"month"` // "YYYY-MM"

	Theme          string `json:"theme"`
	ThemePerfect   bool   `json:"theme_perfect"`
	ThemeNarrative string `json:"theme_narrative,omitempty"`

	MonthlyPlot string `json:"monthly_plot"`
	PlotPerfect bool   `json:"plot_perfect"`

	Weeks map[int]*WeekPlan `json:"weeks"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSeasonPlan creates the empty skeleton for a brand-month: no
// narrative text, four empty week plans, nothing perfect.
func NewSeasonPlan(brandID, month string) *SeasonPlan {
	weeks := make(map[int]*WeekPlan, WeeksPerSeason)
	for n := 1; n <= WeeksPerSeason; n++ {
		weeks[n] = &WeekPlan{Week: n}
	}
	now := time.Now()
	return &SeasonPlan{
		BrandID:   brandID,
		Month:     month,
		Weeks:     weeks,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WeekOrInit returns the plan for week n, creating the empty entry if a
// stored record predates the full skeleton.
func (p *SeasonPlan) WeekOrInit(n int) *WeekPlan {
	if p.Weeks == nil {
		p.Weeks = make(map[int]*WeekPlan, WeeksPerSeason)
	}
	if w, ok := p.Weeks[n]; ok {
		return w
	}
	w := &WeekPlan{Week: n}
	p.Weeks[n] = w
	return w
}

// IsPerfect reports the perfect flag for the given level.
func (p *SeasonPlan) IsPerfect(level NarrativeLevel) bool {
	switch level.Kind {
	case LevelTheme:
		return p.ThemePerfect
	case LevelPlot:
		return p.PlotPerfect
	case LevelWeek:
		if w, ok := p.Weeks[level.Week]; ok {
			return w.SubplotPerfect
		}
	}
	return false
}
