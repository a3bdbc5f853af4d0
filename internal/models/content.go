// internal/models/content.go
package models

import "time"

// ContentSlot identifies one eligible publishing opportunity: a date
// and the channel that is due on it.
type ContentSlot struct {
	Date    string `json:"date"` // "YYYY-MM-DD"
	Channel string `json:"channel"`
}

// ContentItem is the generated artifact for a slot.
type ContentItem struct {
	Date            string   `json:"date"` // "YYYY-MM-DD"
	Channel         string   `json:"channel"`
	Title           string   `json:"title"`
	Brief           string   `json:"brief"`
	EmotionalAngles []string `json:"emotional_angles,omitempty"`
	ContentType     string   `json:"content_type,omitempty"`
	Directives      string   `json:"directives,omitempty"`

	// IsPerfect marks a user-approved item. A perfect item is never
	// replaced by generation; merges must preserve it.
	IsPerfect bool `json:"is_perfect"`

	PersonaID   string    `json:"persona_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

// ContentCalendar is the persisted set of content items for one
// brand-month. Writers reconcile at whole-record granularity; the
// perfect-preservation rule is re-applied on every merge.
type ContentCalendar struct {
	BrandID   string        `json:"brand_id"`
	Month     string        `json:"month"` // "YYYY-MM"
	Items     []ContentItem `json:"items"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Find returns the item for a (date, channel) pair, or nil.
func (c *ContentCalendar) Find(date, channel string) *ContentItem {
	for i := range c.Items {
		if c.Items[i].Date == date && c.Items[i].Channel == channel {
			return &c.Items[i]
		}
	}
	return nil
}

// HasPerfect reports whether a perfect item already covers the slot.
func (c *ContentCalendar) HasPerfect(date, channel string) bool {
	item := c.Find(date, channel)
	return item != nil && item.IsPerfect
}
