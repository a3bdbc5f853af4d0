// internal/services/persona_service.go
package services

import (
	"strings"
	"time"

	"github.com/plotloom/plotloom/internal/models"
)

// PersonaService picks which brand persona narrates a given slot. The
// selection is a pure additive scoring over the roster: identical
// inputs always produce the identical choice.
type PersonaService struct{}

// NewPersonaService creates a persona service.
func NewPersonaService() *PersonaService {
	return &PersonaService{}
}

// PersonaContext carries the narrative context strings scored against
// each persona.
type PersonaContext struct {
	WeekFocus  string
	MonthTheme string
	Events     []models.CalendarEvent
}

// SelectPersona returns the best-scoring persona for the slot, or nil
// when the roster is empty. Muted personas are excluded upstream.
//
// Scoring (case-insensitive substring matches against the persona's
// name+role+voice+about blob):
//
//	+3   channel name appears in the blob
//	+3   week focus or month theme appears in the blob
//	+2   persona role is a substring of the channel name
//	+2   any event title or description appears in the blob
//	+0.5 persona works onsite
//	+((weekday+index) mod 3) * 0.1  deterministic tiebreak
func (s *PersonaService) SelectPersona(roster []models.Persona, date time.Time, channel string, pctx PersonaContext) *models.Persona {
	if len(roster) == 0 {
		return nil
	}

	channelLower := strings.ToLower(channel)
	weekFocus := strings.ToLower(strings.TrimSpace(pctx.WeekFocus))
	monthTheme := strings.ToLower(strings.TrimSpace(pctx.MonthTheme))

	best := 0
	bestScore := -1.0

	for i := range roster {
		p := &roster[i]
		blob := strings.ToLower(p.Name + " " + p.Role + " " + p.Voice + " " + p.About)

		score := 0.0

		if channelLower != "" && strings.Contains(blob, channelLower) {
			score += 3
		}

		if (weekFocus != "" && strings.Contains(blob, weekFocus)) ||
			(monthTheme != "" && strings.Contains(blob, monthTheme)) {
			score += 3
		}

		role := strings.ToLower(strings.TrimSpace(p.Role))
		if role != "" && strings.Contains(channelLower, role) {
			score += 2
		}

		for _, event := range pctx.Events {
			title := strings.ToLower(strings.TrimSpace(event.Title))
			desc := strings.ToLower(strings.TrimSpace(event.Description))
			if (title != "" && strings.Contains(blob, title)) ||
				(desc != "" && strings.Contains(blob, desc)) {
				score += 2
				break
			}
		}

		if p.WorkMode == models.WorkModeOnsite {
			score += 0.5
		}

		score += float64((int(date.Weekday())+i)%3) * 0.1

		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	return &roster[best]
}
