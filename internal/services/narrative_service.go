// internal/services/narrative_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/llm"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/utils"
)

// NarrativeService runs the hierarchical narrative generation: the
// monthly theme, the month-to-weeks breakdown and single-week
// regeneration. Every operation is gated by the perfect chain and
// admitted by a pre-flight budget check; the token balance is settled
// once the provider has answered.
type NarrativeService struct {
	seasons *SeasonService
	llm     *LLMService
	tokens  *TokenService
	parser  *BreakdownParser
}

// NewNarrativeService creates a narrative service.
func NewNarrativeService(seasons *SeasonService, llmService *LLMService, tokens *TokenService, parser *BreakdownParser) *NarrativeService {
	return &NarrativeService{
		seasons: seasons,
		llm:     llmService,
		tokens:  tokens,
		parser:  parser,
	}
}

// BrandProfile is the brand context fed into narrative prompts.
type BrandProfile struct {
	Name        string
	Description string
	Voice       string
	Industry    string
}

// preflight runs the advisory budget check. Anonymous calls are free.
func (s *NarrativeService) preflight(userID, endpoint string) error {
	if s.tokens == nil || userID == "" {
		return nil
	}
	return s.tokens.CheckBalance(userID, endpoint)
}

// settle records the single binding deduction for a completed
// generation. A rejected deduction is logged, not propagated: the
// generated text is kept.
func (s *NarrativeService) settle(userID, endpoint string) {
	if s.tokens == nil || userID == "" {
		return
	}
	if _, err := s.tokens.Deduct(userID, endpoint); err != nil {
		utils.GetLogger().Warnf("token deduction rejected for user %s on %s: %v", userID, endpoint, err)
	}
}

// GenerateTheme produces a fresh monthly theme and its supporting
// narrative, replacing the current theme through the standard edit
// cascade. Refused when the theme is already marked perfect.
func (s *NarrativeService) GenerateTheme(ctx context.Context, userID, brandID, month string, brand BrandProfile) (*models.SeasonPlan, error) {
	plan, err := s.seasons.GetOrCreate(brandID, month)
	if err != nil {
		return nil, err
	}
	if plan.ThemePerfect {
		return nil, apperrors.NewGenerationBlockedError("theme is marked perfect; unmark it to regenerate")
	}

	if err := s.preflight(userID, "narrative.theme"); err != nil {
		return nil, err
	}

	resp, err := s.llm.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       s.buildThemePrompt(month, brand),
		SystemPrompt: "You are a narrative strategist for brand content. Answer in plain prose.",
		MaxTokens:    800,
		Temperature:  0.9,
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "theme generation failed", apperrors.ErrorTypeProcessing)
	}
	s.settle(userID, "narrative.theme")

	theme, narrative := splitThemeResponse(resp.Text)
	if theme == "" {
		return nil, apperrors.NewProcessingError("theme generation returned empty text", nil)
	}

	plan, err = s.seasons.SetTheme(brandID, month, theme)
	if err != nil {
		return nil, err
	}
	if narrative != "" {
		plan, err = s.seasons.SetThemeNarrative(brandID, month, narrative)
		if err != nil {
			return nil, err
		}
	}

	utils.GetMetricsCollector().RecordPipelineEvent(brandID, "theme_generated")
	return plan, nil
}

// GenerateBreakdown expands a perfect theme into the monthly plot and
// four weekly subplots. Already-perfect levels are never overwritten.
func (s *NarrativeService) GenerateBreakdown(ctx context.Context, userID, brandID, month string, brand BrandProfile) (*models.SeasonPlan, error) {
	plan, err := s.seasons.GetOrCreate(brandID, month)
	if err != nil {
		return nil, err
	}
	if err := s.seasons.CanGenerate(plan, models.PlotLevel()); err != nil {
		return nil, err
	}

	if err := s.preflight(userID, "narrative.breakdown"); err != nil {
		return nil, err
	}

	resp, err := s.llm.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       s.buildBreakdownPrompt(plan, brand),
		SystemPrompt: "You are a narrative strategist for brand content.",
		MaxTokens:    1500,
		Temperature:  0.8,
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "breakdown generation failed", apperrors.ErrorTypeProcessing)
	}
	s.settle(userID, "narrative.breakdown")

	breakdown := s.parser.Parse(resp.Text)
	plan, err = s.seasons.ApplyBreakdown(brandID, month, breakdown)
	if err != nil {
		return nil, err
	}

	utils.GetMetricsCollector().RecordPipelineEvent(brandID, "breakdown_generated")
	return plan, nil
}

// GenerateWeek regenerates the subplot for one week. Gated the same
// way as marking the week perfect: the plot and every earlier week
// must already be perfect, and the week itself must not be.
func (s *NarrativeService) GenerateWeek(ctx context.Context, userID, brandID, month string, weekNum int, brand BrandProfile) (*models.SeasonPlan, error) {
	if weekNum < 1 || weekNum > models.WeeksPerSeason {
		return nil, apperrors.NewValidationError(fmt.Sprintf("week must be 1..%d", models.WeeksPerSeason), nil)
	}

	plan, err := s.seasons.GetOrCreate(brandID, month)
	if err != nil {
		return nil, err
	}
	if plan.WeekOrInit(weekNum).SubplotPerfect {
		return nil, apperrors.NewGenerationBlockedError(
			fmt.Sprintf("week %d is marked perfect; unmark it to regenerate", weekNum))
	}
	if err := s.seasons.CanGenerate(plan, models.WeekLevel(weekNum)); err != nil {
		return nil, err
	}

	if err := s.preflight(userID, "narrative.week"); err != nil {
		return nil, err
	}

	resp, err := s.llm.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       s.buildWeekPrompt(plan, weekNum, brand),
		SystemPrompt: "You are a narrative strategist for brand content.",
		MaxTokens:    700,
		Temperature:  0.8,
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "week generation failed", apperrors.ErrorTypeProcessing)
	}
	s.settle(userID, "narrative.week")

	subplot := strings.TrimSpace(resp.Text)
	if subplot == "" {
		return nil, apperrors.NewProcessingError("week generation returned empty text", nil)
	}

	plan, err = s.seasons.SetWeek(brandID, month, weekNum, subplot, "")
	if err != nil {
		return nil, err
	}

	utils.GetMetricsCollector().RecordPipelineEvent(brandID, "week_generated")
	return plan, nil
}

func (s *NarrativeService) buildThemePrompt(month string, brand BrandProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose a monthly content theme for %s.\n\n", month)
	writeBrandContext(&b, brand)
	b.WriteString("\nFirst line: the theme as a short evocative phrase.\n")
	b.WriteString("Then: two or three sentences of supporting narrative explaining the theme.")
	return b.String()
}

func (s *NarrativeService) buildBreakdownPrompt(plan *models.SeasonPlan, brand BrandProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Expand the monthly theme %q into a narrative arc for %s.\n\n", plan.Theme, plan.Month)
	writeBrandContext(&b, brand)
	if plan.ThemeNarrative != "" {
		fmt.Fprintf(&b, "\nTheme narrative: %s\n", plan.ThemeNarrative)
	}
	b.WriteString("\nWrite an overall monthly plot, then exactly four weekly segments using markers of the form:\n")
	b.WriteString("**WEEK 1 - TITLE (Stage):** segment text\n")
	b.WriteString("Stages follow a story arc: Setup, Rising Action, Climax, Resolution.")
	return b.String()
}

func (s *NarrativeService) buildWeekPrompt(plan *models.SeasonPlan, weekNum int, brand BrandProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite the subplot for week %d of the %s content arc.\n\n", weekNum, plan.Month)
	writeBrandContext(&b, brand)
	fmt.Fprintf(&b, "\nMonthly theme: %s\n", plan.Theme)
	fmt.Fprintf(&b, "Monthly plot: %s\n", plan.MonthlyPlot)
	for n := 1; n < weekNum; n++ {
		if week := plan.WeekOrInit(n); week.Subplot != "" {
			fmt.Fprintf(&b, "Week %d subplot: %s\n", n, week.Subplot)
		}
	}
	b.WriteString("\nAnswer with the new subplot text only.")
	return b.String()
}

func writeBrandContext(b *strings.Builder, brand BrandProfile) {
	if brand.Name != "" {
		fmt.Fprintf(b, "Brand: %s\n", brand.Name)
	}
	if brand.Industry != "" {
		fmt.Fprintf(b, "Industry: %s\n", brand.Industry)
	}
	if brand.Description != "" {
		fmt.Fprintf(b, "About: %s\n", brand.Description)
	}
	if brand.Voice != "" {
		fmt.Fprintf(b, "Voice: %s\n", brand.Voice)
	}
}

// splitThemeResponse takes the first non-empty line as the theme and
// the rest as the supporting narrative.
func splitThemeResponse(text string) (theme, narrative string) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		line = strings.TrimSpace(strings.Trim(line, "#*\"- "))
		if line == "" {
			continue
		}
		theme = line
		narrative = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		return theme, narrative
	}
	return "", ""
}
