package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/llm"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/storage"
)

// fakeProvider is a controllable in-memory llm.Provider.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	text  string
	err   error
}

func (f *fakeProvider) Initialize(map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                    { return "fake" }
func (f *fakeProvider) GetSupportedModels() []string       { return []string{"fake-1"} }
func (f *fakeProvider) FetchAvailableModels(context.Context) error { return nil }
func (f *fakeProvider) SetCustomModels([]string)           {}

func (f *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.calls++
	delay, text, err := f.delay, f.text, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if text == "" {
		text = `{"title": "Generated", "brief": "generated brief"}`
	}
	return &llm.CompletionResponse{Text: text, TokensUsed: 10}, nil
}

func (f *fakeProvider) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	ch := make(chan llm.StreamResponse)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var fakeProviderSeq atomic.Int64

// newFakeLLMService registers a fresh fake provider and returns an
// LLMService bound to it.
func newFakeLLMService(t *testing.T, fake *fakeProvider) *LLMService {
	t.Helper()

	name := fmt.Sprintf("fake-%d", fakeProviderSeq.Add(1))
	llm.Register(name, func() llm.Provider { return fake })

	svc := NewEmptyLLMService()
	require.NoError(t, svc.UpdateConfig(name, map[string]string{"api_key": "test"}))
	return svc
}

type queueFixture struct {
	queue   *QueueService
	content *ContentService
	seasons *SeasonService
	tokens  *TokenService
	fake    *fakeProvider
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	fake := &fakeProvider{}
	llmService := newFakeLLMService(t, fake)

	locks := NewLockManager()
	seasons := NewSeasonService(fs, locks)
	content := NewContentService(fs, llmService, locks)
	tokens := NewTokenService(fs)
	queue := NewQueueService(seasons, content, NewPersonaService(), tokens, NewProgressService())

	return &queueFixture{
		queue:   queue,
		content: content,
		seasons: seasons,
		tokens:  tokens,
		fake:    fake,
	}
}

func waitForState(t *testing.T, queue *QueueService, sessionID string, want models.SessionState) models.SessionStatus {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := queue.Status(sessionID)
		require.NoError(t, err)
		if status.State == want {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached state %s", sessionID, want)
	return models.SessionStatus{}
}

func testSlots() []models.ContentSlot {
	return []models.ContentSlot{
		{Date: "2024-02-05", Channel: "instagram"},
		{Date: "2024-02-07", Channel: "instagram"},
		{Date: "2024-02-09", Channel: "instagram"},
	}
}

func TestQueue_AllPerfectMakesNoProviderCalls(t *testing.T) {
	f := newQueueFixture(t)

	items := make([]models.ContentItem, 0, 3)
	for _, slot := range testSlots() {
		items = append(items, models.ContentItem{
			Date: slot.Date, Channel: slot.Channel,
			Title: "kept", Brief: "approved by hand", IsPerfect: true,
		})
	}
	_, err := f.content.MergeItems("acme", "2024-02", items)
	require.NoError(t, err)

	status, err := f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots(),
	})
	require.NoError(t, err)

	final := waitForState(t, f.queue, status.SessionID, models.SessionCompleted)

	assert.Equal(t, 0, f.fake.callCount(), "perfect slots must not reach the provider")
	for _, item := range final.Items {
		assert.Equal(t, models.QueueItemComplete, item.Status)
		assert.Equal(t, "already perfect, skipped", item.Message)
	}
}

func TestQueue_ErrorsDoNotStopTheBatch(t *testing.T) {
	f := newQueueFixture(t)
	f.fake.err = errors.New("provider down")

	// The middle slot is covered by a perfect item; the others fail.
	_, err := f.content.MergeItems("acme", "2024-02", []models.ContentItem{
		{Date: "2024-02-07", Channel: "instagram", Title: "kept", IsPerfect: true},
	})
	require.NoError(t, err)

	status, err := f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots(),
	})
	require.NoError(t, err)

	final := waitForState(t, f.queue, status.SessionID, models.SessionCompleted)

	assert.Equal(t, models.QueueItemError, final.Items[0].Status)
	assert.Equal(t, models.QueueItemComplete, final.Items[1].Status)
	assert.Equal(t, models.QueueItemError, final.Items[2].Status)
	assert.Len(t, final.Warnings, 2)
}

func TestQueue_GeneratesAndMergesItems(t *testing.T) {
	f := newQueueFixture(t)

	status, err := f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots(),
		Roster: []models.Persona{
			{ID: "p1", Name: "Ari", Role: "engineer"},
			{ID: "muted", Name: "Bo", Role: "writer", IsMuted: true},
		},
	})
	require.NoError(t, err)

	waitForState(t, f.queue, status.SessionID, models.SessionCompleted)
	assert.Equal(t, 3, f.fake.callCount())

	calendar, err := f.content.GetCalendar("acme", "2024-02")
	require.NoError(t, err)
	require.Len(t, calendar.Items, 3)
	for _, item := range calendar.Items {
		assert.Equal(t, "Generated", item.Title)
		assert.Equal(t, "p1", item.PersonaID, "muted personas are never selected")
		assert.False(t, item.IsPerfect)
	}
}

func TestQueue_PauseParksBetweenSlots(t *testing.T) {
	f := newQueueFixture(t)
	f.fake.delay = 150 * time.Millisecond

	status, err := f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots(),
	})
	require.NoError(t, err)

	_, err = f.queue.Pause(status.SessionID)
	require.NoError(t, err)

	waitForState(t, f.queue, status.SessionID, models.SessionPaused)

	// Let the in-flight slot drain, then verify no further slots start.
	time.Sleep(400 * time.Millisecond)
	parked, err := f.queue.Status(status.SessionID)
	require.NoError(t, err)
	require.Equal(t, models.SessionPaused, parked.State)
	assert.Less(t, parked.Index, parked.Total)

	time.Sleep(300 * time.Millisecond)
	still, err := f.queue.Status(status.SessionID)
	require.NoError(t, err)
	assert.Equal(t, parked.Index, still.Index)

	_, err = f.queue.Resume(status.SessionID)
	require.NoError(t, err)

	final := waitForState(t, f.queue, status.SessionID, models.SessionCompleted)
	for _, item := range final.Items {
		assert.Equal(t, models.QueueItemComplete, item.Status)
	}
}

func TestQueue_PauseRequiresRunning(t *testing.T) {
	f := newQueueFixture(t)

	status, err := f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots()[:1],
	})
	require.NoError(t, err)

	waitForState(t, f.queue, status.SessionID, models.SessionCompleted)

	_, err = f.queue.Pause(status.SessionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflictError(err))
}

func TestQueue_OneActiveSessionPerBrandMonth(t *testing.T) {
	f := newQueueFixture(t)
	f.fake.delay = 200 * time.Millisecond

	first, err := f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots(),
	})
	require.NoError(t, err)

	_, err = f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflictError(err))

	// A different month is independent.
	_, err = f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-03",
		Slots:   []models.ContentSlot{{Date: "2024-03-04", Channel: "instagram"}},
	})
	require.NoError(t, err)

	_, err = f.queue.Cancel(first.SessionID)
	require.NoError(t, err)

	// Cancelling frees the brand-month for a new batch.
	_, err = f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots()[:1],
	})
	require.NoError(t, err)
}

func TestQueue_BudgetFailsSlotsNotBatch(t *testing.T) {
	f := newQueueFixture(t)

	// Enough for exactly one content generation.
	_, err := f.tokens.Grant("u1", 1300)
	require.NoError(t, err)

	status, err := f.queue.Start(QueueRequest{
		UserID:  "u1",
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots()[:2],
	})
	require.NoError(t, err)

	final := waitForState(t, f.queue, status.SessionID, models.SessionCompleted)

	assert.Equal(t, models.QueueItemComplete, final.Items[0].Status)
	assert.Equal(t, models.QueueItemError, final.Items[1].Status)
	assert.Equal(t, 1, f.fake.callCount())

	balance, err := f.tokens.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 100, balance, "only successful deductions spend tokens")
}

func TestQueue_FailedSlotDoesNotCharge(t *testing.T) {
	f := newQueueFixture(t)
	f.fake.err = errors.New("provider down")

	_, err := f.tokens.Grant("u1", 1300)
	require.NoError(t, err)

	status, err := f.queue.Start(QueueRequest{
		UserID:  "u1",
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots()[:1],
	})
	require.NoError(t, err)

	final := waitForState(t, f.queue, status.SessionID, models.SessionCompleted)
	assert.Equal(t, models.QueueItemError, final.Items[0].Status)

	balance, err := f.tokens.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 1300, balance, "a failed slot must not spend tokens")
}

func TestQueue_CancelWaitsForWorkerDrain(t *testing.T) {
	f := newQueueFixture(t)
	f.fake.delay = 150 * time.Millisecond

	status, err := f.queue.Start(QueueRequest{
		BrandID: "acme",
		Month:   "2024-02",
		Slots:   testSlots(),
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond) // let the first slot get in flight

	_, err = f.queue.Cancel(status.SessionID)
	require.NoError(t, err)

	calls := f.fake.callCount()
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, calls, f.fake.callCount(), "no slot may start once Cancel has returned")
}

func TestQueue_RejectsEmptyBatch(t *testing.T) {
	f := newQueueFixture(t)

	_, err := f.queue.Start(QueueRequest{BrandID: "acme", Month: "2024-02"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}
