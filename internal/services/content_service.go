// internal/services/content_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/llm"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/storage"
	"github.com/plotloom/plotloom/internal/utils"
)

// ContentService generates per-slot content briefs and owns the
// persisted content calendar for each brand-month.
type ContentService struct {
	storage *storage.FileStorage
	llm     *LLMService
	locks   *LockManager
}

// NewContentService creates a content service.
func NewContentService(fileStorage *storage.FileStorage, llmService *LLMService, locks *LockManager) *ContentService {
	return &ContentService{
		storage: fileStorage,
		llm:     llmService,
		locks:   locks,
	}
}

func calendarDir(brandID string) string {
	return fmt.Sprintf("brands/%s/calendars", brandID)
}

func calendarFile(month string) string {
	return month + ".json"
}

// GetCalendar loads the calendar for a brand-month, returning an empty
// calendar when none is stored yet.
func (s *ContentService) GetCalendar(brandID, month string) (*models.ContentCalendar, error) {
	if brandID == "" {
		return nil, apperrors.NewValidationError("brand id is required", nil)
	}
	if err := ValidateMonth(month); err != nil {
		return nil, err
	}

	calendar := &models.ContentCalendar{BrandID: brandID, Month: month}
	err := s.locks.ExecuteWithPlanReadLock(brandID, month, func() error {
		if !s.storage.FileExists(calendarDir(brandID), calendarFile(month)) {
			return nil
		}
		if err := s.storage.LoadJSONFile(calendarDir(brandID), calendarFile(month), calendar); err != nil {
			return apperrors.WrapError(err, "failed to load content calendar", apperrors.ErrorTypeProcessing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return calendar, nil
}

// MergeItems reconciles new items into the stored calendar. An
// incoming item replaces the stored item for its slot unless the
// stored item is perfect; perfect items always survive the merge.
func (s *ContentService) MergeItems(brandID, month string, items []models.ContentItem) (*models.ContentCalendar, error) {
	if brandID == "" {
		return nil, apperrors.NewValidationError("brand id is required", nil)
	}
	if err := ValidateMonth(month); err != nil {
		return nil, err
	}

	calendar := &models.ContentCalendar{BrandID: brandID, Month: month}
	err := s.locks.ExecuteWithPlanLock(brandID, month, func() error {
		if s.storage.FileExists(calendarDir(brandID), calendarFile(month)) {
			if err := s.storage.LoadJSONFile(calendarDir(brandID), calendarFile(month), calendar); err != nil {
				return apperrors.WrapError(err, "failed to load content calendar", apperrors.ErrorTypeProcessing)
			}
		}

		for _, incoming := range items {
			existing := calendar.Find(incoming.Date, incoming.Channel)
			if existing == nil {
				calendar.Items = append(calendar.Items, incoming)
				continue
			}
			if existing.IsPerfect {
				continue
			}
			*existing = incoming
		}

		calendar.UpdatedAt = time.Now()
		if err := s.storage.SaveJSONFile(calendarDir(brandID), calendarFile(month), calendar); err != nil {
			return apperrors.WrapError(err, "failed to save content calendar", apperrors.ErrorTypeProcessing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return calendar, nil
}

// SetItemPerfect flips the perfect flag on one calendar item.
func (s *ContentService) SetItemPerfect(brandID, month, date, channel string, perfect bool) (*models.ContentCalendar, error) {
	if err := ValidateMonth(month); err != nil {
		return nil, err
	}

	calendar := &models.ContentCalendar{BrandID: brandID, Month: month}
	err := s.locks.ExecuteWithPlanLock(brandID, month, func() error {
		if !s.storage.FileExists(calendarDir(brandID), calendarFile(month)) {
			return apperrors.NewNotFoundError("content calendar not found", nil)
		}
		if err := s.storage.LoadJSONFile(calendarDir(brandID), calendarFile(month), calendar); err != nil {
			return apperrors.WrapError(err, "failed to load content calendar", apperrors.ErrorTypeProcessing)
		}

		item := calendar.Find(date, channel)
		if item == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("no content item for %s/%s", date, channel), nil)
		}
		item.IsPerfect = perfect

		calendar.UpdatedAt = time.Now()
		if err := s.storage.SaveJSONFile(calendarDir(brandID), calendarFile(month), calendar); err != nil {
			return apperrors.WrapError(err, "failed to save content calendar", apperrors.ErrorTypeProcessing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return calendar, nil
}

// SlotContext is everything the prompt needs to generate one slot.
type SlotContext struct {
	BrandName   string
	BrandVoice  string
	MonthTheme  string
	MonthlyPlot string
	WeekFocus   string
	Persona     *models.Persona
	Events      []models.CalendarEvent
}

// GenerateSlot makes one provider call and returns the content item for
// the slot. The response is parsed leniently: a JSON object anywhere in
// the text is accepted, and plain text falls back to the brief field.
func (s *ContentService) GenerateSlot(ctx context.Context, slot models.ContentSlot, sctx SlotContext) (*models.ContentItem, error) {
	prompt := s.buildSlotPrompt(slot, sctx)

	resp, err := s.llm.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: "You are a brand content strategist. Respond with a single JSON object.",
		MaxTokens:    1200,
		Temperature:  0.8,
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "content generation failed", apperrors.ErrorTypeProcessing)
	}

	item := s.parseSlotResponse(resp.Text)
	item.Date = slot.Date
	item.Channel = slot.Channel
	if sctx.Persona != nil {
		item.PersonaID = sctx.Persona.ID
	}
	item.GeneratedAt = time.Now()

	utils.GetMetricsCollector().IncrementCounter("content_items_generated")
	return item, nil
}

func (s *ContentService) buildSlotPrompt(slot models.ContentSlot, sctx SlotContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Create a content brief for the %s channel, publishing on %s.\n\n", slot.Channel, slot.Date)

	if sctx.BrandName != "" {
		fmt.Fprintf(&b, "Brand: %s\n", sctx.BrandName)
	}
	if sctx.BrandVoice != "" {
		fmt.Fprintf(&b, "Brand voice: %s\n", sctx.BrandVoice)
	}
	if sctx.MonthTheme != "" {
		fmt.Fprintf(&b, "Monthly theme: %s\n", sctx.MonthTheme)
	}
	if sctx.MonthlyPlot != "" {
		fmt.Fprintf(&b, "Monthly narrative arc: %s\n", sctx.MonthlyPlot)
	}
	if sctx.WeekFocus != "" {
		fmt.Fprintf(&b, "This week's focus: %s\n", sctx.WeekFocus)
	}
	if sctx.Persona != nil {
		fmt.Fprintf(&b, "Narrating persona: %s (%s). Voice: %s\n", sctx.Persona.Name, sctx.Persona.Role, sctx.Persona.Voice)
	}
	for _, event := range sctx.Events {
		if event.Date == slot.Date {
			fmt.Fprintf(&b, "Company event that day: %s - %s\n", event.Title, event.Description)
		}
	}

	b.WriteString("\nRespond with JSON: {\"title\": ..., \"brief\": ..., \"emotional_angles\": [...], \"content_type\": ..., \"directives\": ...}")
	return b.String()
}

// parseSlotResponse extracts the structured brief from a provider
// response. Never fails: unparseable text becomes the brief.
func (s *ContentService) parseSlotResponse(text string) *models.ContentItem {
	item := &models.ContentItem{}

	if raw := extractJSONObject(text); raw != "" {
		var parsed struct {
			Title           string   `json:"title"`
			Brief           string   `json:"brief"`
			EmotionalAngles []string `json:"emotional_angles"`
			ContentType     string   `json:"content_type"`
			Directives      string   `json:"directives"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && (parsed.Title != "" || parsed.Brief != "") {
			item.Title = parsed.Title
			item.Brief = parsed.Brief
			item.EmotionalAngles = parsed.EmotionalAngles
			item.ContentType = parsed.ContentType
			item.Directives = parsed.Directives
			return item
		}
	}

	item.Brief = strings.TrimSpace(text)
	return item
}

// extractJSONObject returns the first balanced top-level JSON object in
// the text, tolerating markdown fences and surrounding prose.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
