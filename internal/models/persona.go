// internal/models/persona.go
package models

// WorkMode describes how a persona participates in the brand's life.
type WorkMode string

const (
	WorkModeOnsite WorkMode = "onsite"
	WorkModeRemote WorkMode = "remote"
	WorkModeHybrid WorkMode = "hybrid"
)

// Persona is one of the brand voices that can narrate a content slot.
type Persona struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	Voice    string   `json:"voice"`
	About    string   `json:"about"` // free-form persona text
	WorkMode WorkMode `json:"work_mode"`
	IsMuted  bool     `json:"is_muted"`
}
