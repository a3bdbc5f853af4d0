// internal/models/event.go
package models

// CalendarEvent is a brand event that colors persona selection and
// content prompts for dates near it.
type CalendarEvent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date,omitempty"` // "YYYY-MM-DD"
}
