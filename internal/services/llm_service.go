// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/plotloom/plotloom/internal/config"
	"github.com/plotloom/plotloom/internal/llm"
	"github.com/plotloom/plotloom/internal/utils"
)

// LLMService owns the active text-generation provider. It can run in
// an unconfigured ("empty") state where every call reports a friendly
// error instead of panicking, so the rest of the app keeps working
// until a provider is configured through the settings API.
type LLMService struct {
	provider     llm.Provider
	providerName string
	ready        bool
	mu           sync.RWMutex

	stats *StatsService
}

// NewLLMService builds the service from the current app config.
func NewLLMService(stats *StatsService) *LLMService {
	s := &LLMService{stats: stats}

	cfg := config.GetCurrentConfig()
	if cfg.LLMProvider == "" || cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		utils.GetLogger().Warn("LLM provider not configured; generation disabled until settings are saved", nil)
		return s
	}

	if err := s.configure(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		utils.GetLogger().Errorf("failed to initialize LLM provider %q: %v", cfg.LLMProvider, err)
	}

	return s
}

// NewEmptyLLMService builds an unconfigured service. Used by tests and
// by bootstrap when no provider settings exist yet.
func NewEmptyLLMService() *LLMService {
	return &LLMService{}
}

func (s *LLMService) configure(providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.ready = true
	return nil
}

// UpdateConfig switches providers at runtime. Invoked by the config
// service when LLM settings change.
func (s *LLMService) UpdateConfig(providerName string, providerConfig map[string]string) error {
	if providerName == "" {
		return errors.New("provider name is required")
	}
	return s.configure(providerName, providerConfig)
}

// IsReady reports whether a provider is configured.
func (s *LLMService) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// GetProviderName returns the configured provider key, or "".
func (s *LLMService) GetProviderName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providerName
}

// GetModels lists the models of the active provider.
func (s *LLMService) GetModels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return []string{}
	}
	return s.provider.GetSupportedModels()
}

// CompleteText runs one completion through the active provider,
// recording usage stats and call metrics.
func (s *LLMService) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.RLock()
	provider := s.provider
	ready := s.ready
	s.mu.RUnlock()

	if !ready {
		return nil, errors.New("no LLM provider configured")
	}

	metrics := utils.GetMetricsCollector()
	start := time.Now()

	resp, err := provider.CompleteText(ctx, req)

	metrics.RecordHistogram("llm_response_time_ms", time.Since(start).Milliseconds())
	if err != nil {
		metrics.IncrementCounter("llm_errors_total")
		return nil, err
	}
	metrics.IncrementCounter("llm_requests_total")

	if s.stats != nil {
		s.stats.RecordRequest(resp.TokensUsed)
	}

	return resp, nil
}

// TestConnection runs a minimal completion against the given settings
// without switching the active provider.
func (s *LLMService) TestConnection(ctx context.Context, providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:    "ping",
		MaxTokens: 8,
	})
	return err
}
