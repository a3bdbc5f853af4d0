// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UsageStats aggregates provider usage across the app.
type UsageStats struct {
	TodayRequests int            `json:"today_requests"`
	MonthlyTokens int            `json:"monthly_tokens"`
	DailyStats    map[string]int `json:"daily_stats"`
	MonthlyStats  map[string]int `json:"monthly_stats"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// StatsService tracks provider request counts and token consumption.
// Saves are batched behind a dirty flag; the app's maintenance job
// calls Flush periodically.
type StatsService struct {
	BasePath    string
	statsFile   string
	mutex       sync.Mutex
	cachedStats *UsageStats

	lastCheckDate  string
	lastCheckMonth string

	isDirty      bool
	lastSaveTime time.Time
	saveInterval time.Duration
}

// NewStatsService creates a stats service storing under basePath.
func NewStatsService(basePath string) *StatsService {
	return &StatsService{
		BasePath:     basePath,
		statsFile:    "usage_stats.json",
		saveInterval: 30 * time.Second,
	}
}

func (s *StatsService) load() *UsageStats {
	if s.cachedStats != nil {
		return s.cachedStats
	}

	stats := &UsageStats{
		DailyStats:   make(map[string]int),
		MonthlyStats: make(map[string]int),
	}

	path := filepath.Join(s.BasePath, s.statsFile)
	if data, err := os.ReadFile(path); err == nil {
		json.Unmarshal(data, stats)
		if stats.DailyStats == nil {
			stats.DailyStats = make(map[string]int)
		}
		if stats.MonthlyStats == nil {
			stats.MonthlyStats = make(map[string]int)
		}
	}

	s.cachedStats = stats
	return stats
}

// RecordRequest records one provider call and its token usage.
func (s *StatsService) RecordRequest(tokensUsed int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := s.load()
	now := time.Now()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	// Roll counters when the day or month changes.
	if s.lastCheckDate != day {
		stats.TodayRequests = stats.DailyStats[day]
		s.lastCheckDate = day
	}
	if s.lastCheckMonth != month {
		stats.MonthlyTokens = stats.MonthlyStats[month]
		s.lastCheckMonth = month
	}

	stats.DailyStats[day]++
	stats.TodayRequests = stats.DailyStats[day]
	stats.MonthlyStats[month] += tokensUsed
	stats.MonthlyTokens = stats.MonthlyStats[month]
	stats.LastUpdated = now

	s.isDirty = true
	if now.Sub(s.lastSaveTime) > s.saveInterval {
		s.saveLocked()
	}
}

// GetStats returns a copy of the current usage stats.
func (s *StatsService) GetStats() UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := s.load()
	copied := *stats
	copied.DailyStats = make(map[string]int, len(stats.DailyStats))
	for k, v := range stats.DailyStats {
		copied.DailyStats[k] = v
	}
	copied.MonthlyStats = make(map[string]int, len(stats.MonthlyStats))
	for k, v := range stats.MonthlyStats {
		copied.MonthlyStats[k] = v
	}
	return copied
}

// Flush writes pending stats to disk if dirty.
func (s *StatsService) Flush() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isDirty {
		return nil
	}
	return s.saveLocked()
}

func (s *StatsService) saveLocked() error {
	if s.cachedStats == nil {
		return nil
	}

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}

	data, err := json.MarshalIndent(s.cachedStats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	path := filepath.Join(s.BasePath, s.statsFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}

	s.isDirty = false
	s.lastSaveTime = time.Now()
	return nil
}
