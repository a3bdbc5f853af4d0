// internal/api/handlers.go
package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plotloom/plotloom/internal/config"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/services"
)

// Handler carries the services behind the API surface.
type Handler struct {
	SeasonService    *services.SeasonService
	NarrativeService *services.NarrativeService
	ContentService   *services.ContentService
	ScheduleService  *services.ScheduleService
	PersonaService   *services.PersonaService
	TokenService     *services.TokenService
	QueueService     *services.QueueService
	ProgressService  *services.ProgressService
	LLMService       *services.LLMService
	ConfigService    *services.ConfigService
	StatsService     *services.StatsService
	WebSocketHandler *WebSocketHandler
	Response         *ResponseHelper
}

// NewHandler creates the API handler over container-provided services.
func NewHandler(
	seasonService *services.SeasonService,
	narrativeService *services.NarrativeService,
	contentService *services.ContentService,
	scheduleService *services.ScheduleService,
	personaService *services.PersonaService,
	tokenService *services.TokenService,
	queueService *services.QueueService,
	progressService *services.ProgressService,
	llmService *services.LLMService,
	configService *services.ConfigService,
	statsService *services.StatsService,
) *Handler {
	return &Handler{
		SeasonService:    seasonService,
		NarrativeService: narrativeService,
		ContentService:   contentService,
		ScheduleService:  scheduleService,
		PersonaService:   personaService,
		TokenService:     tokenService,
		QueueService:     queueService,
		ProgressService:  progressService,
		LLMService:       llmService,
		ConfigService:    configService,
		StatsService:     statsService,
		WebSocketHandler: NewWebSocketHandler(progressService, queueService),
		Response:         NewResponseHelper(),
	}
}

// APIResponse is the standard response envelope
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the standard error format
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// userID resolves the calling user from the X-User-ID header.
func userID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// ------------------------------------------------
// Season plan / narrative hierarchy
// ------------------------------------------------

// GetSeason returns the season plan for a brand-month, creating the
// empty skeleton on first access.
func (h *Handler) GetSeason(c *gin.Context) {
	plan, err := h.SeasonService.GetOrCreate(c.Param("brand_id"), c.Param("month"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, plan)
}

// SetThemeRequest carries a manual theme edit
type SetThemeRequest struct {
	Theme     string `json:"theme"`
	Narrative string `json:"narrative,omitempty"`
}

// SetTheme replaces the monthly theme, cascading downstream resets.
func (h *Handler) SetTheme(c *gin.Context) {
	var req SetThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	plan, err := h.SeasonService.SetTheme(c.Param("brand_id"), c.Param("month"), req.Theme)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	if req.Narrative != "" {
		plan, err = h.SeasonService.SetThemeNarrative(c.Param("brand_id"), c.Param("month"), req.Narrative)
		if err != nil {
			h.Response.ServiceError(c, err)
			return
		}
	}
	h.Response.Success(c, plan, "theme updated")
}

// SetPlotRequest carries a manual monthly plot edit
type SetPlotRequest struct {
	Plot string `json:"plot"`
}

// SetPlot replaces the monthly plot text.
func (h *Handler) SetPlot(c *gin.Context) {
	var req SetPlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	plan, err := h.SeasonService.SetPlot(c.Param("brand_id"), c.Param("month"), req.Plot)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, plan, "monthly plot updated")
}

// SetWeekRequest carries a manual subplot edit
type SetWeekRequest struct {
	Subplot     string `json:"subplot"`
	CustomTheme string `json:"custom_theme,omitempty"`
}

// SetWeek replaces the subplot for one week.
func (h *Handler) SetWeek(c *gin.Context) {
	week, err := strconv.Atoi(c.Param("week"))
	if err != nil {
		h.Response.BadRequest(c, "week must be a number")
		return
	}

	var req SetWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	plan, err := h.SeasonService.SetWeek(c.Param("brand_id"), c.Param("month"), week, req.Subplot, req.CustomTheme)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, plan, "week updated")
}

// TogglePerfectRequest identifies the level to toggle
type TogglePerfectRequest struct {
	Kind string `json:"kind"` // theme, plot, week
	Week int    `json:"week,omitempty"`
}

// TogglePerfect flips the perfect flag on one hierarchy level.
func (h *Handler) TogglePerfect(c *gin.Context) {
	var req TogglePerfectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	level := models.NarrativeLevel{Kind: models.LevelKind(strings.ToLower(req.Kind)), Week: req.Week}
	plan, err := h.SeasonService.TogglePerfect(c.Param("brand_id"), c.Param("month"), level)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, plan, "perfect flag toggled")
}

// BrandRequest is the brand context accepted by generation endpoints
type BrandRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Industry    string `json:"industry,omitempty"`
}

func (b BrandRequest) profile() services.BrandProfile {
	return services.BrandProfile{
		Name:        b.Name,
		Description: b.Description,
		Voice:       b.Voice,
		Industry:    b.Industry,
	}
}

// GenerateRequest wraps the brand context for generation endpoints
type GenerateRequest struct {
	Brand BrandRequest `json:"brand"`
}

// GenerateTheme produces a fresh monthly theme.
func (h *Handler) GenerateTheme(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	plan, err := h.NarrativeService.GenerateTheme(c.Request.Context(), userID(c), c.Param("brand_id"), c.Param("month"), req.Brand.profile())
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, plan, "theme generated")
}

// GenerateBreakdown expands the theme into plot and weekly subplots.
func (h *Handler) GenerateBreakdown(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	plan, err := h.NarrativeService.GenerateBreakdown(c.Request.Context(), userID(c), c.Param("brand_id"), c.Param("month"), req.Brand.profile())
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, plan, "breakdown generated")
}

// GenerateWeek regenerates one week's subplot.
func (h *Handler) GenerateWeek(c *gin.Context) {
	week, err := strconv.Atoi(c.Param("week"))
	if err != nil {
		h.Response.BadRequest(c, "week must be a number")
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	plan, err := h.NarrativeService.GenerateWeek(c.Request.Context(), userID(c), c.Param("brand_id"), c.Param("month"), week, req.Brand.profile())
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, plan, "week regenerated")
}

// ------------------------------------------------
// Content calendar
// ------------------------------------------------

// GetCalendar returns the stored content calendar for a brand-month.
func (h *Handler) GetCalendar(c *gin.Context) {
	calendar, err := h.ContentService.GetCalendar(c.Param("brand_id"), c.Param("month"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, calendar)
}

// PreviewSchedule computes the slot layout for a month from query
// parameters without persisting anything.
func (h *Handler) PreviewSchedule(c *gin.Context) {
	month, err := time.Parse("2006-01", c.Param("month"))
	if err != nil {
		h.Response.BadRequest(c, "invalid month, expected YYYY-MM")
		return
	}

	cadence, err := strconv.Atoi(c.DefaultQuery("cadence", "3"))
	if err != nil || cadence < 0 {
		h.Response.BadRequest(c, "cadence must be a non-negative number")
		return
	}

	var preferredDays []time.Weekday
	if days := c.Query("days"); days != "" {
		preferredDays = services.ParseWeekdays(strings.Split(days, ","))
	}

	channels := config.GetCurrentConfig().DefaultChannels
	if q := c.Query("channels"); q != "" {
		channels = strings.Split(q, ",")
	}

	weeks := h.ScheduleService.ComputeMonthSlots(month.Year(), month.Month(), cadence, preferredDays)
	slots := h.ScheduleService.MonthSlots(month.Year(), month.Month(), cadence, preferredDays, channels, nil)

	formatted := make(map[int][]string, len(weeks))
	for week, dates := range weeks {
		list := make([]string, 0, len(dates))
		for _, d := range dates {
			list = append(list, d.Format("2006-01-02"))
		}
		formatted[week] = list
	}

	h.Response.Success(c, gin.H{
		"weeks": formatted,
		"slots": slots,
	})
}

// SetItemPerfectRequest carries the perfect flag for one item
type SetItemPerfectRequest struct {
	Perfect bool `json:"perfect"`
}

// SetItemPerfect marks or unmarks one calendar item as perfect.
func (h *Handler) SetItemPerfect(c *gin.Context) {
	var req SetItemPerfectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	calendar, err := h.ContentService.SetItemPerfect(
		c.Param("brand_id"), c.Param("month"), c.Param("date"), c.Param("channel"), req.Perfect)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, calendar, "item updated")
}

// ------------------------------------------------
// Generation queue
// ------------------------------------------------

// StartQueueRequest describes a batch start. Slots may be given
// explicitly; otherwise they are computed from the schedule settings.
type StartQueueRequest struct {
	Brand  BrandRequest           `json:"brand"`
	Roster []models.Persona       `json:"roster,omitempty"`
	Events []models.CalendarEvent `json:"events,omitempty"`

	Slots []models.ContentSlot `json:"slots,omitempty"`

	Cadence       int      `json:"cadence,omitempty"`
	PreferredDays []string `json:"preferred_days,omitempty"`
	Channels      []string `json:"channels,omitempty"`
}

// StartQueue creates and starts a generation batch for a brand-month.
func (h *Handler) StartQueue(c *gin.Context) {
	var req StartQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	brandID := c.Param("brand_id")
	monthKey := c.Param("month")

	month, err := time.Parse("2006-01", monthKey)
	if err != nil {
		h.Response.BadRequest(c, "invalid month, expected YYYY-MM")
		return
	}

	cadence := req.Cadence
	if cadence <= 0 && len(req.Slots) == 0 {
		cadence = 3
	}
	preferredDays := services.ParseWeekdays(req.PreferredDays)

	slots := req.Slots
	if len(slots) == 0 {
		channels := req.Channels
		if len(channels) == 0 {
			channels = config.GetCurrentConfig().DefaultChannels
		}
		slots = h.ScheduleService.MonthSlots(month.Year(), month.Month(), cadence, preferredDays, channels, nil)
	}

	// date -> week map lets the worker pick the right subplot per slot.
	schedule := make(map[string]int, len(slots))
	for _, slot := range slots {
		if date, err := time.Parse("2006-01-02", slot.Date); err == nil {
			schedule[slot.Date] = services.WeekOfMonth(date)
		}
	}

	status, err := h.QueueService.Start(services.QueueRequest{
		UserID:   userID(c),
		BrandID:  brandID,
		Month:    monthKey,
		Slots:    slots,
		Brand:    req.Brand.profile(),
		Roster:   req.Roster,
		Events:   req.Events,
		Schedule: schedule,
	})
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Created(c, status, "generation batch started")
}

// PauseQueue pauses a running session at the next slot boundary.
func (h *Handler) PauseQueue(c *gin.Context) {
	status, err := h.QueueService.Pause(c.Param("session_id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, status, "session paused")
}

// ResumeQueue releases a paused session.
func (h *Handler) ResumeQueue(c *gin.Context) {
	status, err := h.QueueService.Resume(c.Param("session_id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, status, "session resumed")
}

// CancelQueue discards a session.
func (h *Handler) CancelQueue(c *gin.Context) {
	status, err := h.QueueService.Cancel(c.Param("session_id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, status, "session cancelled")
}

// QueueStatus returns the current snapshot of a session.
func (h *Handler) QueueStatus(c *gin.Context) {
	status, err := h.QueueService.Status(c.Param("session_id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, status)
}

// ActiveQueue returns the session currently holding a brand-month.
func (h *Handler) ActiveQueue(c *gin.Context) {
	status, ok := h.QueueService.ActiveSession(c.Param("brand_id"), c.Param("month"))
	if !ok {
		h.Response.NotFound(c, "session")
		return
	}
	h.Response.Success(c, status)
}

// ------------------------------------------------
// Persona selection preview
// ------------------------------------------------

// SelectPersonaRequest carries one selector invocation
type SelectPersonaRequest struct {
	Roster     []models.Persona       `json:"roster"`
	Date       string                 `json:"date"` // "YYYY-MM-DD"
	Channel    string                 `json:"channel"`
	WeekFocus  string                 `json:"week_focus,omitempty"`
	MonthTheme string                 `json:"month_theme,omitempty"`
	Events     []models.CalendarEvent `json:"events,omitempty"`
}

// SelectPersona previews which persona the selector would pick.
func (h *Handler) SelectPersona(c *gin.Context) {
	var req SelectPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		h.Response.BadRequest(c, "invalid date, expected YYYY-MM-DD")
		return
	}

	roster := make([]models.Persona, 0, len(req.Roster))
	for _, p := range req.Roster {
		if !p.IsMuted {
			roster = append(roster, p)
		}
	}

	persona := h.PersonaService.SelectPersona(roster, date, req.Channel, services.PersonaContext{
		WeekFocus:  req.WeekFocus,
		MonthTheme: req.MonthTheme,
		Events:     req.Events,
	})
	if persona == nil {
		h.Response.Success(c, gin.H{"persona": nil}, "roster is empty")
		return
	}
	h.Response.Success(c, gin.H{"persona": persona})
}

// ------------------------------------------------
// Token budget
// ------------------------------------------------

// GetTokenBalance returns a user's current balance.
func (h *Handler) GetTokenBalance(c *gin.Context) {
	balance, err := h.TokenService.GetBalance(c.Param("user_id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"user_id": c.Param("user_id"), "balance": balance})
}

// GrantTokensRequest carries a balance credit
type GrantTokensRequest struct {
	Amount int `json:"amount"`
}

// GrantTokens credits tokens to a user.
func (h *Handler) GrantTokens(c *gin.Context) {
	var req GrantTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	balance, err := h.TokenService.Grant(c.Param("user_id"), req.Amount)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"user_id": c.Param("user_id"), "balance": balance}, "tokens granted")
}

// GetTokenEstimate returns the flat estimate for an endpoint.
func (h *Handler) GetTokenEstimate(c *gin.Context) {
	endpoint := c.Param("endpoint")
	h.Response.Success(c, gin.H{
		"endpoint":  endpoint,
		"estimated": services.EstimateTokens(endpoint),
	})
}

// ------------------------------------------------
// Settings / LLM
// ------------------------------------------------

// GetSettings returns the current settings with secrets masked.
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, h.ConfigService.GetSettings())
}

// SaveSettingsRequest carries an LLM settings update
type SaveSettingsRequest struct {
	Provider string            `json:"provider"`
	Config   map[string]string `json:"config"`
}

// SaveSettings persists new LLM settings and re-initializes providers.
func (h *Handler) SaveSettings(c *gin.Context) {
	var req SaveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	if err := h.ConfigService.UpdateLLMSettings(req.Provider, req.Config); err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, h.ConfigService.GetSettings(), "settings saved")
}

// TestConnection runs a connection test against candidate settings.
func (h *Handler) TestConnection(c *gin.Context) {
	var req SaveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	if err := h.ConfigService.TestLLMSettings(c.Request.Context(), h.LLMService, req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadGateway, ErrorConnectionFailed, err.Error())
		return
	}
	h.Response.Success(c, gin.H{"ok": true}, "connection test passed")
}

// GetLLMStatus reports provider readiness and usage stats.
func (h *Handler) GetLLMStatus(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"ready":    h.LLMService.IsReady(),
		"provider": h.LLMService.GetProviderName(),
		"usage":    h.StatsService.GetStats(),
	})
}

// GetLLMModels lists the models of the active provider.
func (h *Handler) GetLLMModels(c *gin.Context) {
	if !h.LLMService.IsReady() {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable, "no LLM provider configured")
		return
	}
	h.Response.Success(c, gin.H{"models": h.LLMService.GetModels()})
}

// UpdateLLMConfig switches the active provider directly.
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req SaveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	if err := h.LLMService.UpdateConfig(req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, err.Error())
		return
	}
	h.Response.Success(c, gin.H{"provider": req.Provider}, "provider updated")
}

// GetConfigHealth reports whether generation is fully configured.
func (h *Handler) GetConfigHealth(c *gin.Context) {
	cfg := config.GetCurrentConfig()

	issues := []string{}
	if cfg.LLMProvider == "" {
		issues = append(issues, ErrorLLMProviderMissing)
	}
	if cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		issues = append(issues, ErrorAPIKeyMissing)
	}

	h.Response.Success(c, gin.H{
		"healthy": len(issues) == 0,
		"issues":  issues,
	})
}

// SubscribeProgress streams progress updates for a task over SSE.
func (h *Handler) SubscribeProgress(c *gin.Context) {
	taskID := c.Param("taskID")
	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "session")
		return
	}

	subscriber := tracker.Subscribe()
	defer tracker.Unsubscribe(subscriber)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-subscriber:
			if !ok {
				return false
			}
			c.SSEvent("progress", update)
			return update.Status == "running" || update.Status == "paused"
		case <-tracker.Done:
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}
