// internal/services/season_service.go
package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/storage"
	"github.com/plotloom/plotloom/internal/utils"
)

var monthRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// SeasonService owns the season plan records: the monthly theme, the
// monthly plot and the four weekly subplots for each brand-month, and
// the perfect-flag chain that gates regeneration between levels.
type SeasonService struct {
	storage *storage.FileStorage
	locks   *LockManager
}

// NewSeasonService creates a season service over the given storage.
func NewSeasonService(fileStorage *storage.FileStorage, locks *LockManager) *SeasonService {
	return &SeasonService{
		storage: fileStorage,
		locks:   locks,
	}
}

func seasonDir(brandID string) string {
	return fmt.Sprintf("brands/%s/seasons", brandID)
}

func seasonFile(month string) string {
	return month + ".json"
}

// ValidateMonth checks the "YYYY-MM" month key format.
func ValidateMonth(month string) error {
	if !monthRe.MatchString(month) {
		return apperrors.NewValidationError(fmt.Sprintf("invalid month %q, expected YYYY-MM", month), nil)
	}
	return nil
}

// GetOrCreate loads the season plan for a brand-month, creating and
// persisting an empty skeleton when none exists yet.
func (s *SeasonService) GetOrCreate(brandID, month string) (*models.SeasonPlan, error) {
	if brandID == "" {
		return nil, apperrors.NewValidationError("brand id is required", nil)
	}
	if err := ValidateMonth(month); err != nil {
		return nil, err
	}

	var plan *models.SeasonPlan
	err := s.locks.ExecuteWithPlanLock(brandID, month, func() error {
		var err error
		plan, err = s.loadLocked(brandID, month)
		if err != nil {
			return err
		}
		if plan != nil {
			return nil
		}

		plan = models.NewSeasonPlan(brandID, month)
		return s.saveLocked(plan)
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// loadLocked reads the plan file, returning (nil, nil) when absent.
// Callers must hold the plan lock.
func (s *SeasonService) loadLocked(brandID, month string) (*models.SeasonPlan, error) {
	dir := seasonDir(brandID)
	file := seasonFile(month)

	if !s.storage.FileExists(dir, file) {
		return nil, nil
	}

	var plan models.SeasonPlan
	if err := s.storage.LoadJSONFile(dir, file, &plan); err != nil {
		return nil, apperrors.WrapError(err, "failed to load season plan", apperrors.ErrorTypeProcessing)
	}

	// Stored records written before the full week skeleton existed
	// may lack week entries.
	for n := 1; n <= models.WeeksPerSeason; n++ {
		plan.WeekOrInit(n)
	}
	return &plan, nil
}

func (s *SeasonService) saveLocked(plan *models.SeasonPlan) error {
	plan.UpdatedAt = time.Now()
	if err := s.storage.SaveJSONFile(seasonDir(plan.BrandID), seasonFile(plan.Month), plan); err != nil {
		return apperrors.WrapError(err, "failed to save season plan", apperrors.ErrorTypeProcessing)
	}
	return nil
}

// SetTheme replaces the monthly theme. Any manual edit of the theme
// invalidates everything derived from it: the theme loses its perfect
// flag, the monthly plot is cleared, and plot and subplot perfect
// flags reset. Subplot text itself is kept so manual weekly work is
// not thrown away.
func (s *SeasonService) SetTheme(brandID, month, theme string) (*models.SeasonPlan, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return nil, apperrors.NewValidationError("theme must not be empty", nil)
	}

	return s.update(brandID, month, func(plan *models.SeasonPlan) error {
		if plan.Theme == theme {
			return nil
		}
		plan.Theme = theme
		s.cascadeFromTheme(plan)
		return nil
	})
}

// SetThemeNarrative stores the long-form narrative that accompanies the
// theme. It does not trigger the downstream cascade.
func (s *SeasonService) SetThemeNarrative(brandID, month, narrative string) (*models.SeasonPlan, error) {
	return s.update(brandID, month, func(plan *models.SeasonPlan) error {
		plan.ThemeNarrative = strings.TrimSpace(narrative)
		return nil
	})
}

func (s *SeasonService) cascadeFromTheme(plan *models.SeasonPlan) {
	plan.ThemePerfect = false
	plan.MonthlyPlot = ""
	plan.PlotPerfect = false
	for _, week := range plan.Weeks {
		week.SubplotPerfect = false
	}
	utils.GetMetricsCollector().RecordPipelineEvent(plan.BrandID, "theme_cascade")
}

// SetPlot replaces the monthly plot text. Editing the plot resets its
// own perfect flag and every subplot perfect flag; the theme level is
// untouched.
func (s *SeasonService) SetPlot(brandID, month, plot string) (*models.SeasonPlan, error) {
	plot = strings.TrimSpace(plot)
	if plot == "" {
		return nil, apperrors.NewValidationError("monthly plot must not be empty", nil)
	}

	return s.update(brandID, month, func(plan *models.SeasonPlan) error {
		if plan.MonthlyPlot == plot {
			return nil
		}
		plan.MonthlyPlot = plot
		plan.PlotPerfect = false
		for _, week := range plan.Weeks {
			week.SubplotPerfect = false
		}
		return nil
	})
}

// SetWeek replaces the subplot text (and optional per-week theme) for
// one week, resetting only that week's perfect flag.
func (s *SeasonService) SetWeek(brandID, month string, weekNum int, subplot, customTheme string) (*models.SeasonPlan, error) {
	if weekNum < 1 || weekNum > models.WeeksPerSeason {
		return nil, apperrors.NewValidationError(fmt.Sprintf("week must be 1..%d", models.WeeksPerSeason), nil)
	}

	return s.update(brandID, month, func(plan *models.SeasonPlan) error {
		week := plan.WeekOrInit(weekNum)
		week.Subplot = strings.TrimSpace(subplot)
		if customTheme != "" {
			week.CustomTheme = strings.TrimSpace(customTheme)
		}
		week.SubplotPerfect = false
		return nil
	})
}

// TogglePerfect flips the perfect flag on one level. Marking a level
// perfect requires the level above it to already be perfect and the
// level itself to carry text. Unmarking a level clears the perfect
// flags of every level below it, keeping the chain consistent.
func (s *SeasonService) TogglePerfect(brandID, month string, level models.NarrativeLevel) (*models.SeasonPlan, error) {
	if !level.Valid() {
		return nil, apperrors.NewValidationError("invalid narrative level", nil)
	}

	return s.update(brandID, month, func(plan *models.SeasonPlan) error {
		switch level.Kind {
		case models.LevelTheme:
			if plan.ThemePerfect {
				plan.ThemePerfect = false
				plan.PlotPerfect = false
				for _, week := range plan.Weeks {
					week.SubplotPerfect = false
				}
				return nil
			}
			if strings.TrimSpace(plan.Theme) == "" {
				return apperrors.NewValidationError("cannot mark an empty theme perfect", nil)
			}
			plan.ThemePerfect = true

		case models.LevelPlot:
			if plan.PlotPerfect {
				plan.PlotPerfect = false
				for _, week := range plan.Weeks {
					week.SubplotPerfect = false
				}
				return nil
			}
			if !plan.ThemePerfect {
				return apperrors.NewGenerationBlockedError("theme must be perfect before the monthly plot")
			}
			if strings.TrimSpace(plan.MonthlyPlot) == "" {
				return apperrors.NewValidationError("cannot mark an empty monthly plot perfect", nil)
			}
			plan.PlotPerfect = true

		case models.LevelWeek:
			week := plan.WeekOrInit(level.Week)
			if week.SubplotPerfect {
				week.SubplotPerfect = false
				return nil
			}
			if err := s.checkWeekGate(plan, level.Week); err != nil {
				return err
			}
			if strings.TrimSpace(week.Subplot) == "" {
				return apperrors.NewValidationError("cannot mark an empty subplot perfect", nil)
			}
			week.SubplotPerfect = true
		}
		return nil
	})
}

// checkWeekGate enforces the sequential week gate: week n can only be
// marked perfect when the plot and every earlier week already are.
func (s *SeasonService) checkWeekGate(plan *models.SeasonPlan, weekNum int) error {
	if !plan.PlotPerfect {
		return apperrors.NewGenerationBlockedError("monthly plot must be perfect before weekly subplots")
	}
	for n := 1; n < weekNum; n++ {
		if !plan.WeekOrInit(n).SubplotPerfect {
			return apperrors.NewGenerationBlockedError(fmt.Sprintf("week %d must be perfect before week %d", n, weekNum))
		}
	}
	return nil
}

// CanGenerate reports whether generation at the given level is allowed
// by the perfect chain: each level requires every level above it to be
// perfect. The theme level is always open.
func (s *SeasonService) CanGenerate(plan *models.SeasonPlan, level models.NarrativeLevel) error {
	if !level.Valid() {
		return apperrors.NewValidationError("invalid narrative level", nil)
	}

	switch level.Kind {
	case models.LevelTheme:
		return nil
	case models.LevelPlot:
		if !plan.ThemePerfect {
			return apperrors.NewGenerationBlockedError("theme must be marked perfect before generating the monthly plot")
		}
	case models.LevelWeek:
		if err := s.checkWeekGate(plan, level.Week); err != nil {
			return err
		}
	}
	return nil
}

// ApplyBreakdown writes a parsed narrative breakdown into the plan:
// non-empty monthly plot and week segments replace existing text
// unless the target level is already perfect.
func (s *SeasonService) ApplyBreakdown(brandID, month string, breakdown *Breakdown) (*models.SeasonPlan, error) {
	if breakdown == nil {
		return nil, apperrors.NewValidationError("breakdown is required", nil)
	}

	return s.update(brandID, month, func(plan *models.SeasonPlan) error {
		if breakdown.MonthlyPlot != "" && !plan.PlotPerfect {
			plan.MonthlyPlot = breakdown.MonthlyPlot
		}
		for n, wb := range breakdown.Weeks {
			if n < 1 || n > models.WeeksPerSeason {
				continue
			}
			week := plan.WeekOrInit(n)
			if week.SubplotPerfect {
				continue
			}
			if wb.Subplot != "" {
				week.Subplot = wb.Subplot
			}
			if wb.Theme != "" {
				week.CustomTheme = wb.Theme
			}
		}
		return nil
	})
}

// update loads, mutates and saves a plan under the brand-month lock.
func (s *SeasonService) update(brandID, month string, fn func(*models.SeasonPlan) error) (*models.SeasonPlan, error) {
	if brandID == "" {
		return nil, apperrors.NewValidationError("brand id is required", nil)
	}
	if err := ValidateMonth(month); err != nil {
		return nil, err
	}

	var plan *models.SeasonPlan
	err := s.locks.ExecuteWithPlanLock(brandID, month, func() error {
		var err error
		plan, err = s.loadLocked(brandID, month)
		if err != nil {
			return err
		}
		if plan == nil {
			plan = models.NewSeasonPlan(brandID, month)
		}
		if err := fn(plan); err != nil {
			return err
		}
		return s.saveLocked(plan)
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ListMonths returns the months that have a stored plan for a brand.
func (s *SeasonService) ListMonths(brandID string) ([]string, error) {
	files, err := s.storage.ListFiles(seasonDir(brandID), ".json")
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list season plans", apperrors.ErrorTypeProcessing)
	}
	months := make([]string, 0, len(files))
	for _, f := range files {
		month := strings.TrimSuffix(f, ".json")
		if monthRe.MatchString(month) {
			months = append(months, month)
		}
	}
	return months, nil
}
