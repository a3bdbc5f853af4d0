package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/storage"
)

type narrativeFixture struct {
	narrative *NarrativeService
	seasons   *SeasonService
	tokens    *TokenService
	fake      *fakeProvider
}

func newNarrativeFixture(t *testing.T) *narrativeFixture {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	fake := &fakeProvider{}
	seasons := NewSeasonService(fs, NewLockManager())
	tokens := NewTokenService(fs)
	narrative := NewNarrativeService(seasons, newFakeLLMService(t, fake), tokens, NewBreakdownParser())

	return &narrativeFixture{
		narrative: narrative,
		seasons:   seasons,
		tokens:    tokens,
		fake:      fake,
	}
}

func TestGenerateTheme(t *testing.T) {
	f := newNarrativeFixture(t)
	f.fake.text = "**Bold Horizons**\n\nA month about leaving the comfort zone.\nEvery channel leans into firsts."

	plan, err := f.narrative.GenerateTheme(context.Background(), "", "acme", "2024-02", BrandProfile{Name: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, "Bold Horizons", plan.Theme)
	assert.Contains(t, plan.ThemeNarrative, "comfort zone")
	assert.False(t, plan.ThemePerfect)
	assert.Equal(t, 1, f.fake.callCount())
}

func TestGenerateTheme_RefusedWhenPerfect(t *testing.T) {
	f := newNarrativeFixture(t)

	_, err := f.seasons.SetTheme("acme", "2024-02", "resilience")
	require.NoError(t, err)
	_, err = f.seasons.TogglePerfect("acme", "2024-02", models.ThemeLevel())
	require.NoError(t, err)

	_, err = f.narrative.GenerateTheme(context.Background(), "", "acme", "2024-02", BrandProfile{})
	require.Error(t, err)
	assert.True(t, apperrors.IsGenerationBlocked(err))
	assert.Equal(t, 0, f.fake.callCount(), "blocked generation never reaches the provider")
}

func TestGenerateBreakdown(t *testing.T) {
	f := newNarrativeFixture(t)
	f.fake.text = "The month opens quietly and builds to a public launch.\n\n" +
		"**WEEK 1 - FOUNDATIONS (Setup):** Introduce the team behind the product.\n" +
		"**WEEK 2 - MOMENTUM (Rising Action):** Show the prototypes breaking.\n" +
		"**WEEK 3 - LAUNCH (Climax):** Ship it live on every channel.\n" +
		"**WEEK 4 - AFTERGLOW (Resolution):** Customer stories and thanks."

	_, err := f.seasons.SetTheme("acme", "2024-02", "firsts")
	require.NoError(t, err)
	_, err = f.seasons.TogglePerfect("acme", "2024-02", models.ThemeLevel())
	require.NoError(t, err)

	plan, err := f.narrative.GenerateBreakdown(context.Background(), "", "acme", "2024-02", BrandProfile{Name: "Acme"})
	require.NoError(t, err)

	assert.Contains(t, plan.MonthlyPlot, "builds to a public launch")
	assert.Equal(t, "FOUNDATIONS", plan.WeekOrInit(1).CustomTheme)
	assert.Contains(t, plan.WeekOrInit(3).Subplot, "Ship it live")
	assert.Contains(t, plan.WeekOrInit(4).Subplot, "Customer stories")
}

func TestGenerateBreakdown_RequiresPerfectTheme(t *testing.T) {
	f := newNarrativeFixture(t)

	_, err := f.seasons.SetTheme("acme", "2024-02", "firsts")
	require.NoError(t, err)

	_, err = f.narrative.GenerateBreakdown(context.Background(), "", "acme", "2024-02", BrandProfile{})
	require.Error(t, err)
	assert.True(t, apperrors.IsGenerationBlocked(err))
	assert.Equal(t, 0, f.fake.callCount())
}

func TestGenerateWeek(t *testing.T) {
	f := newNarrativeFixture(t)
	perfectChain(t, f.seasons, "acme", "2024-02")
	f.fake.text = "  A tighter retelling of week two.  "

	// A perfect week refuses regeneration until unmarked.
	_, err := f.narrative.GenerateWeek(context.Background(), "", "acme", "2024-02", 2, BrandProfile{})
	require.Error(t, err)
	assert.True(t, apperrors.IsGenerationBlocked(err))

	_, err = f.seasons.TogglePerfect("acme", "2024-02", models.WeekLevel(2))
	require.NoError(t, err)

	plan, err := f.narrative.GenerateWeek(context.Background(), "", "acme", "2024-02", 2, BrandProfile{})
	require.NoError(t, err)
	assert.Equal(t, "A tighter retelling of week two.", plan.WeekOrInit(2).Subplot)
	assert.False(t, plan.WeekOrInit(2).SubplotPerfect)
}

func TestGenerateWeek_ValidatesWeekNumber(t *testing.T) {
	f := newNarrativeFixture(t)

	_, err := f.narrative.GenerateWeek(context.Background(), "", "acme", "2024-02", 5, BrandProfile{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestNarrativeCharging(t *testing.T) {
	f := newNarrativeFixture(t)
	f.fake.text = "Firsts\nA month of firsts."

	// No balance: the call is refused before the provider is contacted.
	_, err := f.narrative.GenerateTheme(context.Background(), "u1", "acme", "2024-02", BrandProfile{})
	require.Error(t, err)
	assert.True(t, apperrors.IsBudgetExceeded(err))
	assert.Equal(t, 0, f.fake.callCount())

	_, err = f.tokens.Grant("u1", 1000)
	require.NoError(t, err)

	_, err = f.narrative.GenerateTheme(context.Background(), "u1", "acme", "2024-02", BrandProfile{})
	require.NoError(t, err)

	balance, err := f.tokens.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 200, balance)
}

func TestNarrativeFailedGenerationDoesNotCharge(t *testing.T) {
	f := newNarrativeFixture(t)
	f.fake.err = errors.New("provider down")

	_, err := f.tokens.Grant("u1", 1000)
	require.NoError(t, err)

	_, err = f.narrative.GenerateTheme(context.Background(), "u1", "acme", "2024-02", BrandProfile{})
	require.Error(t, err)
	assert.Equal(t, 1, f.fake.callCount())

	balance, err := f.tokens.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 1000, balance, "a failed generation must not spend tokens")
}

func TestGenerateBreakdown_StructuredResponse(t *testing.T) {
	f := newNarrativeFixture(t)
	f.fake.text = `{
		"monthly_plot": "A month that builds from quiet prep to a loud finale.",
		"weeks": {
			"1": {"theme": "PREP", "subplot": "Lay the groundwork in private."},
			"2": "Show the first public glimpses.",
			"3": {"theme": "REVEAL", "subplot": "Open the doors."},
			"4": "Thank everyone who showed up."
		}
	}`

	_, err := f.seasons.SetTheme("acme", "2024-02", "crescendo")
	require.NoError(t, err)
	_, err = f.seasons.TogglePerfect("acme", "2024-02", models.ThemeLevel())
	require.NoError(t, err)

	plan, err := f.narrative.GenerateBreakdown(context.Background(), "", "acme", "2024-02", BrandProfile{})
	require.NoError(t, err)

	assert.Equal(t, "A month that builds from quiet prep to a loud finale.", plan.MonthlyPlot)
	assert.Equal(t, "PREP", plan.WeekOrInit(1).CustomTheme)
	assert.Equal(t, "Show the first public glimpses.", plan.WeekOrInit(2).Subplot)
	assert.Equal(t, "REVEAL", plan.WeekOrInit(3).CustomTheme)
	assert.Equal(t, "Thank everyone who showed up.", plan.WeekOrInit(4).Subplot)
}

func TestNarrativeAnonymousCallsAreFree(t *testing.T) {
	f := newNarrativeFixture(t)
	f.fake.text = "Firsts\nA month of firsts."

	_, err := f.narrative.GenerateTheme(context.Background(), "", "acme", "2024-02", BrandProfile{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.fake.callCount())
}

func TestSplitThemeResponse(t *testing.T) {
	t.Run("markdown heading", func(t *testing.T) {
		theme, narrative := splitThemeResponse("## \"Bold Horizons\"\nRest of it.")
		assert.Equal(t, "Bold Horizons", theme)
		assert.Equal(t, "Rest of it.", narrative)
	})

	t.Run("leading blank lines", func(t *testing.T) {
		theme, narrative := splitThemeResponse("\n\n- Quiet Power\n\nThe narrative.")
		assert.Equal(t, "Quiet Power", theme)
		assert.Equal(t, "The narrative.", narrative)
	})

	t.Run("theme only", func(t *testing.T) {
		theme, narrative := splitThemeResponse("Momentum")
		assert.Equal(t, "Momentum", theme)
		assert.Empty(t, narrative)
	})

	t.Run("empty", func(t *testing.T) {
		theme, narrative := splitThemeResponse("   \n  ")
		assert.Empty(t, theme)
		assert.Empty(t, narrative)
	})
}
