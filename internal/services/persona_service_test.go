package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plotloom/plotloom/internal/models"
)

func TestSelectPersona_EmptyRoster(t *testing.T) {
	svc := NewPersonaService()

	persona := svc.SelectPersona(nil, time.Now(), "instagram", PersonaContext{})
	assert.Nil(t, persona)
}

func TestSelectPersona_ChannelMatchWins(t *testing.T) {
	svc := NewPersonaService()

	roster := []models.Persona{
		{ID: "a", Name: "Ari", Role: "engineer", About: "ships backend systems"},
		{ID: "b", Name: "Bo", Role: "designer", About: "loves instagram reels and stories"},
	}

	date := time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC)
	persona := svc.SelectPersona(roster, date, "instagram", PersonaContext{})

	require.NotNil(t, persona)
	assert.Equal(t, "b", persona.ID)
}

func TestSelectPersona_ThemeMatchCounts(t *testing.T) {
	svc := NewPersonaService()

	roster := []models.Persona{
		{ID: "a", Name: "Ari", Role: "engineer", About: "quiet builder"},
		{ID: "b", Name: "Bo", Role: "marketer", Voice: "bold", About: "all about resilience and grit"},
	}

	date := time.Date(2024, time.February, 7, 0, 0, 0, 0, time.UTC)
	persona := svc.SelectPersona(roster, date, "linkedin", PersonaContext{
		MonthTheme: "resilience",
	})

	require.NotNil(t, persona)
	assert.Equal(t, "b", persona.ID)
}

func TestSelectPersona_EventKeywordCounts(t *testing.T) {
	svc := NewPersonaService()

	roster := []models.Persona{
		{ID: "a", Name: "Ari", Role: "engineer", About: "backend"},
		{ID: "b", Name: "Bo", Role: "people ops", About: "organizes the hackathon every year"},
	}

	date := time.Date(2024, time.February, 9, 0, 0, 0, 0, time.UTC)
	persona := svc.SelectPersona(roster, date, "facebook", PersonaContext{
		Events: []models.CalendarEvent{
			{Title: "hackathon", Description: "annual internal hackathon", Date: "2024-02-09"},
		},
	})

	require.NotNil(t, persona)
	assert.Equal(t, "b", persona.ID)
}

func TestSelectPersona_OnsiteBreaksLevelScores(t *testing.T) {
	svc := NewPersonaService()

	// Identical blobs; only the work mode differs. Use a date+index
	// combination where the rotation tiebreak is equal for both.
	roster := []models.Persona{
		{ID: "a", Name: "Sam", Role: "writer", WorkMode: models.WorkModeRemote},
		{ID: "b", Name: "Sam", Role: "writer", WorkMode: models.WorkModeOnsite},
	}

	// Weekday Wednesday (3): rotation is (3+0)%3=0 vs (3+1)%3=1, so b
	// also gets the rotation bump; onsite widens the gap.
	date := time.Date(2024, time.February, 7, 0, 0, 0, 0, time.UTC)
	persona := svc.SelectPersona(roster, date, "instagram", PersonaContext{})

	require.NotNil(t, persona)
	assert.Equal(t, "b", persona.ID)
}

func TestSelectPersona_Deterministic(t *testing.T) {
	svc := NewPersonaService()

	roster := []models.Persona{
		{ID: "a", Name: "Ari", Role: "engineer", About: "backend"},
		{ID: "b", Name: "Bo", Role: "designer", About: "visuals"},
		{ID: "c", Name: "Cal", Role: "writer", About: "stories"},
	}
	date := time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC)
	pctx := PersonaContext{MonthTheme: "momentum"}

	first := svc.SelectPersona(roster, date, "linkedin", pctx)
	require.NotNil(t, first)

	for i := 0; i < 10; i++ {
		again := svc.SelectPersona(roster, date, "linkedin", pctx)
		require.NotNil(t, again)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestSelectPersona_FirstWinsOnExactTie(t *testing.T) {
	svc := NewPersonaService()

	// Same blob, same work mode, and a Sunday start so the rotation for
	// index 0 and index 3 is identical.
	roster := []models.Persona{
		{ID: "a", Name: "Sam", Role: "writer"},
		{ID: "b", Name: "Sam", Role: "writer"},
		{ID: "c", Name: "Sam", Role: "writer"},
		{ID: "d", Name: "Sam", Role: "writer"},
	}

	date := time.Date(2024, time.February, 4, 0, 0, 0, 0, time.UTC) // Sunday
	persona := svc.SelectPersona(roster, date, "instagram", PersonaContext{})

	require.NotNil(t, persona)
	// Sunday weekday 0: rotations are 0, .1, .2, 0 — strict comparison
	// keeps the earlier of equal scores, so c (index 2) wins.
	assert.Equal(t, "c", persona.ID)
}
