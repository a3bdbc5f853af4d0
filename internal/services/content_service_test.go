package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/storage"
)

func newTestContentService(t *testing.T, fake *fakeProvider) *ContentService {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	var llmService *LLMService
	if fake != nil {
		llmService = newFakeLLMService(t, fake)
	}
	return NewContentService(fs, llmService, NewLockManager())
}

func TestGetCalendar_EmptyWhenUnstored(t *testing.T) {
	svc := newTestContentService(t, nil)

	calendar, err := svc.GetCalendar("acme", "2024-02")
	require.NoError(t, err)
	assert.Equal(t, "acme", calendar.BrandID)
	assert.Equal(t, "2024-02", calendar.Month)
	assert.Empty(t, calendar.Items)
}

func TestGetCalendar_RejectsBadMonth(t *testing.T) {
	svc := newTestContentService(t, nil)

	_, err := svc.GetCalendar("acme", "2024-2")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestMergeItems_PerfectItemsSurvive(t *testing.T) {
	svc := newTestContentService(t, nil)

	_, err := svc.MergeItems("acme", "2024-02", []models.ContentItem{
		{Date: "2024-02-05", Channel: "instagram", Title: "approved", IsPerfect: true},
		{Date: "2024-02-07", Channel: "instagram", Title: "draft"},
	})
	require.NoError(t, err)

	calendar, err := svc.MergeItems("acme", "2024-02", []models.ContentItem{
		{Date: "2024-02-05", Channel: "instagram", Title: "overwrite attempt"},
		{Date: "2024-02-07", Channel: "instagram", Title: "revised"},
		{Date: "2024-02-09", Channel: "linkedin", Title: "new"},
	})
	require.NoError(t, err)
	require.Len(t, calendar.Items, 3)

	assert.Equal(t, "approved", calendar.Find("2024-02-05", "instagram").Title)
	assert.Equal(t, "revised", calendar.Find("2024-02-07", "instagram").Title)
	assert.Equal(t, "new", calendar.Find("2024-02-09", "linkedin").Title)
}

func TestMergeItems_SlotsAreChannelScoped(t *testing.T) {
	svc := newTestContentService(t, nil)

	calendar, err := svc.MergeItems("acme", "2024-02", []models.ContentItem{
		{Date: "2024-02-05", Channel: "instagram", Title: "ig"},
		{Date: "2024-02-05", Channel: "linkedin", Title: "li"},
	})
	require.NoError(t, err)
	require.Len(t, calendar.Items, 2)
}

func TestSetItemPerfect(t *testing.T) {
	svc := newTestContentService(t, nil)

	_, err := svc.MergeItems("acme", "2024-02", []models.ContentItem{
		{Date: "2024-02-05", Channel: "instagram", Title: "draft"},
	})
	require.NoError(t, err)

	calendar, err := svc.SetItemPerfect("acme", "2024-02", "2024-02-05", "instagram", true)
	require.NoError(t, err)
	assert.True(t, calendar.Find("2024-02-05", "instagram").IsPerfect)

	_, err = svc.SetItemPerfect("acme", "2024-02", "2024-02-28", "instagram", true)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestSetItemPerfect_NoCalendar(t *testing.T) {
	svc := newTestContentService(t, nil)

	_, err := svc.SetItemPerfect("acme", "2024-02", "2024-02-05", "instagram", true)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestGenerateSlot(t *testing.T) {
	fake := &fakeProvider{
		text: `Here is your brief:
` + "```json" + `
{"title": "Launch day", "brief": "Tell the origin story.", "emotional_angles": ["pride"], "content_type": "reel", "directives": "close with a question"}
` + "```",
	}
	svc := newTestContentService(t, fake)

	item, err := svc.GenerateSlot(context.Background(),
		models.ContentSlot{Date: "2024-02-05", Channel: "instagram"},
		SlotContext{
			BrandName: "Acme",
			WeekFocus: "origins",
			Persona:   &models.Persona{ID: "p1", Name: "Ari"},
		})
	require.NoError(t, err)

	assert.Equal(t, "2024-02-05", item.Date)
	assert.Equal(t, "instagram", item.Channel)
	assert.Equal(t, "p1", item.PersonaID)
	assert.Equal(t, "Launch day", item.Title)
	assert.Equal(t, "Tell the origin story.", item.Brief)
	assert.Equal(t, []string{"pride"}, item.EmotionalAngles)
	assert.Equal(t, "reel", item.ContentType)
	assert.False(t, item.GeneratedAt.IsZero())
}

func TestParseSlotResponse(t *testing.T) {
	svc := newTestContentService(t, nil)

	t.Run("bare json", func(t *testing.T) {
		item := svc.parseSlotResponse(`{"title": "T", "brief": "B"}`)
		assert.Equal(t, "T", item.Title)
		assert.Equal(t, "B", item.Brief)
	})

	t.Run("json wrapped in prose", func(t *testing.T) {
		item := svc.parseSlotResponse("Sure! Here you go:\n\n{\"title\": \"T\", \"brief\": \"B\"}\n\nLet me know if you need edits.")
		assert.Equal(t, "T", item.Title)
	})

	t.Run("braces inside strings", func(t *testing.T) {
		item := svc.parseSlotResponse(`{"title": "A {bold} move", "brief": "use \"quotes\" and } freely"}`)
		assert.Equal(t, "A {bold} move", item.Title)
	})

	t.Run("plain text falls back to brief", func(t *testing.T) {
		item := svc.parseSlotResponse("  Just write about the launch.  ")
		assert.Empty(t, item.Title)
		assert.Equal(t, "Just write about the launch.", item.Brief)
	})

	t.Run("malformed json falls back to brief", func(t *testing.T) {
		item := svc.parseSlotResponse(`{"title": "unclosed`)
		assert.Empty(t, item.Title)
		assert.Contains(t, item.Brief, "unclosed")
	})
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, extractJSONObject(`noise {"a": {"b": 1}} trailer`))
	assert.Equal(t, "", extractJSONObject("no object here"))
	assert.Equal(t, "", extractJSONObject(`{"never": "closed`))
}
