package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/storage"
)

func newTestSeasonService(t *testing.T) *SeasonService {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	return NewSeasonService(fs, NewLockManager())
}

// perfectChain walks a plan to a fully approved state.
func perfectChain(t *testing.T, svc *SeasonService, brandID, month string) *models.SeasonPlan {
	t.Helper()

	_, err := svc.SetTheme(brandID, month, "resilience")
	require.NoError(t, err)
	_, err = svc.TogglePerfect(brandID, month, models.ThemeLevel())
	require.NoError(t, err)

	_, err = svc.SetPlot(brandID, month, "a month about bouncing back")
	require.NoError(t, err)
	_, err = svc.TogglePerfect(brandID, month, models.PlotLevel())
	require.NoError(t, err)

	var plan *models.SeasonPlan
	for n := 1; n <= models.WeeksPerSeason; n++ {
		_, err = svc.SetWeek(brandID, month, n, "subplot for the week", "")
		require.NoError(t, err)
		plan, err = svc.TogglePerfect(brandID, month, models.WeekLevel(n))
		require.NoError(t, err)
	}
	return plan
}

func TestGetOrCreate_BuildsSkeleton(t *testing.T) {
	svc := newTestSeasonService(t)

	plan, err := svc.GetOrCreate("acme", "2024-02")
	require.NoError(t, err)

	assert.Equal(t, "acme", plan.BrandID)
	assert.Equal(t, "2024-02", plan.Month)
	assert.Empty(t, plan.Theme)
	assert.False(t, plan.ThemePerfect)
	require.Len(t, plan.Weeks, models.WeeksPerSeason)
	for n := 1; n <= models.WeeksPerSeason; n++ {
		assert.Equal(t, n, plan.Weeks[n].Week)
		assert.False(t, plan.Weeks[n].SubplotPerfect)
	}

	// Second read returns the persisted record.
	again, err := svc.GetOrCreate("acme", "2024-02")
	require.NoError(t, err)
	assert.Equal(t, plan.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestGetOrCreate_RejectsBadMonth(t *testing.T) {
	svc := newTestSeasonService(t)

	_, err := svc.GetOrCreate("acme", "February 2024")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = svc.GetOrCreate("acme", "2024-13")
	require.Error(t, err)
}

func TestSetTheme_CascadesDownstream(t *testing.T) {
	svc := newTestSeasonService(t)
	perfectChain(t, svc, "acme", "2024-02")

	plan, err := svc.SetTheme("acme", "2024-02", "a brand new direction")
	require.NoError(t, err)

	assert.Equal(t, "a brand new direction", plan.Theme)
	assert.False(t, plan.ThemePerfect)
	assert.Empty(t, plan.MonthlyPlot, "monthly plot must be cleared")
	assert.False(t, plan.PlotPerfect)
	for n := 1; n <= models.WeeksPerSeason; n++ {
		assert.False(t, plan.Weeks[n].SubplotPerfect, "week %d perfect flag must reset", n)
		assert.Equal(t, "subplot for the week", plan.Weeks[n].Subplot, "week %d text must survive", n)
	}
}

func TestSetTheme_SameTextNoCascade(t *testing.T) {
	svc := newTestSeasonService(t)
	perfectChain(t, svc, "acme", "2024-02")

	plan, err := svc.SetTheme("acme", "2024-02", "resilience")
	require.NoError(t, err)

	assert.True(t, plan.ThemePerfect)
	assert.True(t, plan.PlotPerfect)
}

func TestSetPlot_ResetsPlotAndWeeks(t *testing.T) {
	svc := newTestSeasonService(t)
	perfectChain(t, svc, "acme", "2024-02")

	plan, err := svc.SetPlot("acme", "2024-02", "an entirely different arc")
	require.NoError(t, err)

	assert.True(t, plan.ThemePerfect, "theme level is untouched")
	assert.False(t, plan.PlotPerfect)
	for n := 1; n <= models.WeeksPerSeason; n++ {
		assert.False(t, plan.Weeks[n].SubplotPerfect)
	}
}

func TestSetWeek_ResetsOnlyThatWeek(t *testing.T) {
	svc := newTestSeasonService(t)
	perfectChain(t, svc, "acme", "2024-02")

	plan, err := svc.SetWeek("acme", "2024-02", 2, "a rewritten second week", "")
	require.NoError(t, err)

	assert.False(t, plan.Weeks[2].SubplotPerfect)
	assert.True(t, plan.Weeks[1].SubplotPerfect)
	assert.True(t, plan.Weeks[3].SubplotPerfect)
	assert.True(t, plan.PlotPerfect)
}

func TestTogglePerfect_GatesOnUpstreamLevels(t *testing.T) {
	svc := newTestSeasonService(t)

	_, err := svc.SetTheme("acme", "2024-02", "resilience")
	require.NoError(t, err)
	_, err = svc.SetPlot("acme", "2024-02", "the arc")
	require.NoError(t, err)

	// Plot cannot be perfect before the theme.
	_, err = svc.TogglePerfect("acme", "2024-02", models.PlotLevel())
	require.Error(t, err)
	assert.True(t, apperrors.IsGenerationBlocked(err))

	_, err = svc.TogglePerfect("acme", "2024-02", models.ThemeLevel())
	require.NoError(t, err)
	_, err = svc.TogglePerfect("acme", "2024-02", models.PlotLevel())
	require.NoError(t, err)

	// Week 2 cannot be perfect before week 1.
	_, err = svc.SetWeek("acme", "2024-02", 2, "second week", "")
	require.NoError(t, err)
	_, err = svc.TogglePerfect("acme", "2024-02", models.WeekLevel(2))
	require.Error(t, err)
	assert.True(t, apperrors.IsGenerationBlocked(err))

	_, err = svc.SetWeek("acme", "2024-02", 1, "first week", "")
	require.NoError(t, err)
	_, err = svc.TogglePerfect("acme", "2024-02", models.WeekLevel(1))
	require.NoError(t, err)
	plan, err := svc.TogglePerfect("acme", "2024-02", models.WeekLevel(2))
	require.NoError(t, err)
	assert.True(t, plan.Weeks[2].SubplotPerfect)
}

func TestTogglePerfect_RejectsEmptyText(t *testing.T) {
	svc := newTestSeasonService(t)

	_, err := svc.GetOrCreate("acme", "2024-02")
	require.NoError(t, err)

	_, err = svc.TogglePerfect("acme", "2024-02", models.ThemeLevel())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestTogglePerfect_UnmarkClearsDownstream(t *testing.T) {
	svc := newTestSeasonService(t)
	perfectChain(t, svc, "acme", "2024-02")

	plan, err := svc.TogglePerfect("acme", "2024-02", models.ThemeLevel())
	require.NoError(t, err)

	assert.False(t, plan.ThemePerfect)
	assert.False(t, plan.PlotPerfect)
	for n := 1; n <= models.WeeksPerSeason; n++ {
		assert.False(t, plan.Weeks[n].SubplotPerfect)
	}
	assert.NotEmpty(t, plan.MonthlyPlot, "unmarking does not destroy text")
}

func TestCanGenerate(t *testing.T) {
	svc := newTestSeasonService(t)

	plan, err := svc.GetOrCreate("acme", "2024-02")
	require.NoError(t, err)

	assert.NoError(t, svc.CanGenerate(plan, models.ThemeLevel()))
	assert.Error(t, svc.CanGenerate(plan, models.PlotLevel()))
	assert.Error(t, svc.CanGenerate(plan, models.WeekLevel(1)))

	plan = perfectChain(t, svc, "acme", "2024-02")
	assert.NoError(t, svc.CanGenerate(plan, models.WeekLevel(4)))
}

func TestApplyBreakdown_SkipsPerfectLevels(t *testing.T) {
	svc := newTestSeasonService(t)

	_, err := svc.SetTheme("acme", "2024-02", "resilience")
	require.NoError(t, err)
	_, err = svc.TogglePerfect("acme", "2024-02", models.ThemeLevel())
	require.NoError(t, err)
	_, err = svc.SetPlot("acme", "2024-02", "hand-written plot")
	require.NoError(t, err)
	_, err = svc.TogglePerfect("acme", "2024-02", models.PlotLevel())
	require.NoError(t, err)

	plan, err := svc.ApplyBreakdown("acme", "2024-02", &Breakdown{
		MonthlyPlot: "generated plot",
		Weeks: map[int]WeekBreakdown{
			1: {Theme: "LAUNCH", Subplot: "generated week one"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hand-written plot", plan.MonthlyPlot, "perfect plot survives")
	assert.Equal(t, "generated week one", plan.Weeks[1].Subplot)
	assert.Equal(t, "LAUNCH", plan.Weeks[1].CustomTheme)
}
