// internal/services/config_service.go
package services

import (
	"context"
	"sync"

	"github.com/plotloom/plotloom/internal/config"
	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/llm"
	"github.com/plotloom/plotloom/internal/utils"
)

// LLMSettings is the settings-API view of provider configuration. The
// API key is masked on read.
type LLMSettings struct {
	Provider        string   `json:"provider"`
	Model           string   `json:"model,omitempty"`
	APIKeySet       bool     `json:"api_key_set"`
	DefaultChannels []string `json:"default_channels,omitempty"`
	DebugMode       bool     `json:"debug_mode"`
}

// ConfigService exposes runtime settings and fans configuration
// changes out to subscribed services.
type ConfigService struct {
	mu          sync.Mutex
	subscribers []func(provider string, providerConfig map[string]string)
}

// NewConfigService creates a config service.
func NewConfigService() *ConfigService {
	return &ConfigService{}
}

// OnLLMConfigChange registers a callback invoked after every
// successful LLM settings update.
func (s *ConfigService) OnLLMConfigChange(fn func(provider string, providerConfig map[string]string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// GetSettings returns the current settings with secrets masked.
func (s *ConfigService) GetSettings() LLMSettings {
	cfg := config.GetCurrentConfig()

	settings := LLMSettings{
		Provider:        cfg.LLMProvider,
		DefaultChannels: cfg.DefaultChannels,
		DebugMode:       cfg.DebugMode,
	}
	if cfg.LLMConfig != nil {
		settings.Model = cfg.LLMConfig["model"]
		settings.APIKeySet = cfg.LLMConfig["api_key"] != ""
	}
	return settings
}

// UpdateLLMSettings validates the provider settings against the
// registry, persists them, and notifies subscribers.
func (s *ConfigService) UpdateLLMSettings(provider string, providerConfig map[string]string) error {
	if provider == "" {
		return apperrors.NewValidationError("provider is required", nil)
	}
	if providerConfig == nil || providerConfig["api_key"] == "" {
		return apperrors.NewValidationError("api_key is required", nil)
	}

	// Instantiating the provider validates the settings shape.
	if _, err := llm.GetProvider(provider, providerConfig); err != nil {
		return apperrors.NewValidationError("invalid provider settings: "+err.Error(), err)
	}

	if err := config.UpdateLLMConfig(provider, providerConfig); err != nil {
		return apperrors.WrapError(err, "failed to persist LLM settings", apperrors.ErrorTypeProcessing)
	}

	s.mu.Lock()
	subscribers := make([]func(string, map[string]string), len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(provider, providerConfig)
	}

	utils.GetLogger().Info("LLM settings updated", map[string]interface{}{
		"provider": provider,
	})
	return nil
}

// TestLLMSettings runs a connection test against candidate settings
// without persisting them.
func (s *ConfigService) TestLLMSettings(ctx context.Context, llmService *LLMService, provider string, providerConfig map[string]string) error {
	if provider == "" {
		return apperrors.NewValidationError("provider is required", nil)
	}
	if err := llmService.TestConnection(ctx, provider, providerConfig); err != nil {
		return apperrors.WrapError(err, "connection test failed", apperrors.ErrorTypeProcessing)
	}
	return nil
}
