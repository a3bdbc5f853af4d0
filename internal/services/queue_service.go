// internal/services/queue_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/utils"
)

// QueueRequest describes one generation batch: which brand-month to
// fill, which slots, and the context shared by every slot.
type QueueRequest struct {
	UserID  string
	BrandID string
	Month   string

	Slots []models.ContentSlot

	Brand    BrandProfile
	Roster   []models.Persona
	Events   []models.CalendarEvent
	Schedule map[string]int // date -> week number
}

// queueSession is the in-memory state of one running batch.
type queueSession struct {
	id      string
	brandID string
	month   string
	userID  string

	mu       sync.Mutex
	state    models.SessionState
	index    int
	items    []models.QueueItem
	warnings []string
	updated  time.Time

	resumeCh chan struct{} // closed to release a pause
	done     chan struct{} // closed when the worker goroutine exits
	cancel   context.CancelFunc
}

func (q *queueSession) snapshot() models.SessionStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]models.QueueItem, len(q.items))
	copy(items, q.items)
	warnings := make([]string, len(q.warnings))
	copy(warnings, q.warnings)

	return models.SessionStatus{
		SessionID: q.id,
		BrandID:   q.brandID,
		Month:     q.month,
		State:     q.state,
		Index:     q.index,
		Total:     len(q.items),
		Items:     items,
		Warnings:  warnings,
		UpdatedAt: q.updated,
	}
}

func (q *queueSession) setItem(i int, status models.QueueItemStatus, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[i].Status = status
	q.items[i].Message = message
	q.index = i + 1
	q.updated = time.Now()
}

func (q *queueSession) warn(message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.warnings = append(q.warnings, message)
	q.updated = time.Now()
}

// QueueService runs generation batches: one worker goroutine per
// session, slots processed strictly in order, with cooperative pause
// between slots. At most one session may be active per brand-month.
type QueueService struct {
	seasons  *SeasonService
	content  *ContentService
	personas *PersonaService
	tokens   *TokenService
	progress *ProgressService

	mu       sync.Mutex
	sessions map[string]*queueSession // by session id
	active   map[string]string        // brandID/month -> session id
}

// NewQueueService creates a queue service.
func NewQueueService(seasons *SeasonService, content *ContentService, personas *PersonaService, tokens *TokenService, progress *ProgressService) *QueueService {
	return &QueueService{
		seasons:  seasons,
		content:  content,
		personas: personas,
		tokens:   tokens,
		progress: progress,
		sessions: make(map[string]*queueSession),
		active:   make(map[string]string),
	}
}

// Start enqueues a batch and launches its worker. Returns a conflict
// error when a session is already running or paused for the same
// brand-month.
func (s *QueueService) Start(req QueueRequest) (models.SessionStatus, error) {
	if req.BrandID == "" {
		return models.SessionStatus{}, apperrors.NewValidationError("brand id is required", nil)
	}
	if err := ValidateMonth(req.Month); err != nil {
		return models.SessionStatus{}, err
	}
	if len(req.Slots) == 0 {
		return models.SessionStatus{}, apperrors.NewValidationError("no slots to generate", nil)
	}

	key := req.BrandID + "/" + req.Month

	s.mu.Lock()
	if existing, busy := s.active[key]; busy {
		s.mu.Unlock()
		return models.SessionStatus{}, apperrors.NewConflictError(
			fmt.Sprintf("generation already in progress for %s (session %s)", key, existing), nil)
	}

	items := make([]models.QueueItem, len(req.Slots))
	for i, slot := range req.Slots {
		items[i] = models.QueueItem{
			Date:    slot.Date,
			Channel: slot.Channel,
			Status:  models.QueueItemPending,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &queueSession{
		id:       uuid.NewString(),
		brandID:  req.BrandID,
		month:    req.Month,
		userID:   req.UserID,
		state:    models.SessionRunning,
		items:    items,
		updated:  time.Now(),
		resumeCh: make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	close(session.resumeCh) // not paused

	s.sessions[session.id] = session
	s.active[key] = session.id
	s.mu.Unlock()

	tracker := s.progress.CreateTracker(session.id)
	go s.run(ctx, session, req, tracker)

	utils.GetMetricsCollector().RecordPipelineEvent(req.BrandID, "batch_started")
	return session.snapshot(), nil
}

// run processes the batch sequentially. Per-slot failures are recorded
// and the batch continues; only cancellation stops it early.
func (s *QueueService) run(ctx context.Context, session *queueSession, req QueueRequest, tracker *ProgressTracker) {
	defer close(session.done)

	total := len(session.items)

	for i := range session.items {
		if err := s.waitIfPaused(ctx, session, tracker); err != nil {
			return // cancelled
		}

		slot := models.ContentSlot{Date: session.items[i].Date, Channel: session.items[i].Channel}
		session.setItem(i, models.QueueItemGenerating, "")
		tracker.UpdateProgress(i*100/total, fmt.Sprintf("generating %s/%s", slot.Date, slot.Channel))

		status, message := s.processSlot(ctx, session, req, slot)
		session.setItem(i, status, message)
		if status == models.QueueItemError {
			session.warn(fmt.Sprintf("%s/%s: %s", slot.Date, slot.Channel, message))
		}
		tracker.UpdateProgress((i+1)*100/total, "")
	}

	if ctx.Err() != nil {
		return // cancelled during the final slot
	}

	session.mu.Lock()
	session.state = models.SessionCompleted
	session.updated = time.Now()
	session.mu.Unlock()

	s.release(session)
	tracker.Complete(fmt.Sprintf("generated %d slots", total))
	utils.GetMetricsCollector().RecordPipelineEvent(session.brandID, "batch_completed")
}

// processSlot generates one slot. Slots already covered by a perfect
// item are skipped without contacting the provider or spending tokens.
func (s *QueueService) processSlot(ctx context.Context, session *queueSession, req QueueRequest, slot models.ContentSlot) (models.QueueItemStatus, string) {
	calendar, err := s.content.GetCalendar(session.brandID, session.month)
	if err != nil {
		return models.QueueItemError, err.Error()
	}
	if calendar.HasPerfect(slot.Date, slot.Channel) {
		return models.QueueItemComplete, "already perfect, skipped"
	}

	plan, err := s.seasons.GetOrCreate(session.brandID, session.month)
	if err != nil {
		return models.QueueItemError, err.Error()
	}

	weekFocus := ""
	if weekNum, ok := req.Schedule[slot.Date]; ok {
		if week := plan.WeekOrInit(weekNum); week.Subplot != "" {
			weekFocus = week.Subplot
		}
	}

	date, err := time.Parse("2006-01-02", slot.Date)
	if err != nil {
		return models.QueueItemError, fmt.Sprintf("invalid slot date %q", slot.Date)
	}

	roster := make([]models.Persona, 0, len(req.Roster))
	for _, p := range req.Roster {
		if !p.IsMuted {
			roster = append(roster, p)
		}
	}
	persona := s.personas.SelectPersona(roster, date, slot.Channel, PersonaContext{
		WeekFocus:  weekFocus,
		MonthTheme: plan.Theme,
		Events:     req.Events,
	})

	// Budget pre-flight: a slot the balance cannot cover fails without
	// contacting the provider.
	if s.tokens != nil && session.userID != "" {
		if err := s.tokens.CheckBalance(session.userID, "content.generate"); err != nil {
			return models.QueueItemError, err.Error()
		}
	}

	item, err := s.content.GenerateSlot(ctx, slot, SlotContext{
		BrandName:   req.Brand.Name,
		BrandVoice:  req.Brand.Voice,
		MonthTheme:  plan.Theme,
		MonthlyPlot: plan.MonthlyPlot,
		WeekFocus:   weekFocus,
		Persona:     persona,
		Events:      req.Events,
	})
	if err != nil {
		return models.QueueItemError, err.Error()
	}

	// Settle once the provider has answered: one deduction attempt per
	// generated slot. A rejected deduction is logged and the generated
	// item is kept.
	if s.tokens != nil && session.userID != "" {
		if _, err := s.tokens.Deduct(session.userID, "content.generate"); err != nil {
			utils.GetLogger().Warnf("token deduction rejected for user %s on %s/%s: %v",
				session.userID, slot.Date, slot.Channel, err)
		}
	}

	if _, err := s.content.MergeItems(session.brandID, session.month, []models.ContentItem{*item}); err != nil {
		return models.QueueItemError, err.Error()
	}
	return models.QueueItemComplete, ""
}

// waitIfPaused blocks between slots while the session is paused.
// Cancellation takes priority over a released pause.
func (s *QueueService) waitIfPaused(ctx context.Context, session *queueSession, tracker *ProgressTracker) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	session.mu.Lock()
	resumeCh := session.resumeCh
	paused := session.state == models.SessionPaused
	session.mu.Unlock()

	if paused {
		tracker.SetStatus("paused", "generation paused")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resumeCh:
	}

	if paused {
		tracker.SetStatus("running", "generation resumed")
	}
	return nil
}

// Pause requests a pause. The current slot finishes; the worker parks
// before the next one.
func (s *QueueService) Pause(sessionID string) (models.SessionStatus, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return models.SessionStatus{}, err
	}

	session.mu.Lock()
	if session.state != models.SessionRunning {
		state := session.state
		session.mu.Unlock()
		return models.SessionStatus{}, apperrors.NewConflictError(
			fmt.Sprintf("cannot pause a %s session", state), nil)
	}
	session.state = models.SessionPaused
	session.resumeCh = make(chan struct{})
	session.updated = time.Now()
	session.mu.Unlock()

	return session.snapshot(), nil
}

// Resume releases a paused session at the slot after the last
// completed one.
func (s *QueueService) Resume(sessionID string) (models.SessionStatus, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return models.SessionStatus{}, err
	}

	session.mu.Lock()
	if session.state != models.SessionPaused {
		state := session.state
		session.mu.Unlock()
		return models.SessionStatus{}, apperrors.NewConflictError(
			fmt.Sprintf("cannot resume a %s session", state), nil)
	}
	session.state = models.SessionRunning
	close(session.resumeCh)
	session.updated = time.Now()
	session.mu.Unlock()

	return session.snapshot(), nil
}

// Cancel discards a session, stopping the worker at the next slot
// boundary. It returns only after the worker goroutine has drained, so
// no slot is written once Cancel comes back.
func (s *QueueService) Cancel(sessionID string) (models.SessionStatus, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return models.SessionStatus{}, err
	}

	session.mu.Lock()
	alreadyDone := session.state == models.SessionCompleted || session.state == models.SessionIdle
	if !alreadyDone {
		session.state = models.SessionIdle
		session.updated = time.Now()
	}
	session.mu.Unlock()

	if !alreadyDone {
		session.cancel()
		<-session.done
		s.release(session)
		if tracker, ok := s.progress.GetTracker(sessionID); ok {
			tracker.Fail("cancelled")
		}
	}

	return session.snapshot(), nil
}

// Status returns the current snapshot of a session.
func (s *QueueService) Status(sessionID string) (models.SessionStatus, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return models.SessionStatus{}, err
	}
	return session.snapshot(), nil
}

// ActiveSession returns the status of the session currently holding a
// brand-month, if any.
func (s *QueueService) ActiveSession(brandID, month string) (models.SessionStatus, bool) {
	s.mu.Lock()
	id, ok := s.active[brandID+"/"+month]
	var session *queueSession
	if ok {
		session = s.sessions[id]
	}
	s.mu.Unlock()

	if session == nil {
		return models.SessionStatus{}, false
	}
	return session.snapshot(), true
}

func (s *QueueService) get(sessionID string) (*queueSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("session %s not found", sessionID), nil)
	}
	return session, nil
}

// release frees the brand-month so a new batch can start.
func (s *QueueService) release(session *queueSession) {
	key := session.brandID + "/" + session.month

	s.mu.Lock()
	if s.active[key] == session.id {
		delete(s.active, key)
	}
	s.mu.Unlock()
}
