// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plotloom/plotloom/internal/config"
	"github.com/plotloom/plotloom/internal/di"
	"github.com/plotloom/plotloom/internal/services"
)

// SetupRouter wires the HTTP surface. Services come from the DI
// container only; the router never constructs its own instances.
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	container := di.GetContainer()

	seasonService, ok := container.Get("season").(*services.SeasonService)
	if !ok {
		return nil, fmt.Errorf("season service not initialized")
	}

	narrativeService, ok := container.Get("narrative").(*services.NarrativeService)
	if !ok {
		return nil, fmt.Errorf("narrative service not initialized")
	}

	contentService, ok := container.Get("content").(*services.ContentService)
	if !ok {
		return nil, fmt.Errorf("content service not initialized")
	}

	scheduleService, ok := container.Get("schedule").(*services.ScheduleService)
	if !ok {
		return nil, fmt.Errorf("schedule service not initialized")
	}

	personaService, ok := container.Get("persona").(*services.PersonaService)
	if !ok {
		return nil, fmt.Errorf("persona service not initialized")
	}

	tokenService, ok := container.Get("token").(*services.TokenService)
	if !ok {
		return nil, fmt.Errorf("token service not initialized")
	}

	queueService, ok := container.Get("queue").(*services.QueueService)
	if !ok {
		return nil, fmt.Errorf("queue service not initialized")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("progress service not initialized")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("llm service not initialized")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("config service not initialized")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("stats service not initialized")
	}

	handler := NewHandler(
		seasonService,
		narrativeService,
		contentService,
		scheduleService,
		personaService,
		tokenService,
		queueService,
		progressService,
		llmService,
		configService,
		statsService,
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(corsMiddleware())

	// WebSocket subscription for batch progress
	r.GET("/ws/queue/:session_id", handler.WebSocketHandler.QueueWebSocket)

	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// ===============================
		// Settings routes
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
			settingsGroup.POST("/test-connection", handler.TestConnection)
		}

		// ===============================
		// LLM routes
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		// ===============================
		// Brand-month routes
		// ===============================
		brandGroup := api.Group("/brands/:brand_id")
		{
			seasonGroup := brandGroup.Group("/seasons/:month")
			{
				seasonGroup.GET("", handler.GetSeason)
				seasonGroup.PUT("/theme", handler.SetTheme)
				seasonGroup.PUT("/plot", handler.SetPlot)
				seasonGroup.PUT("/weeks/:week", handler.SetWeek)
				seasonGroup.POST("/perfect", handler.TogglePerfect)

				generateGroup := seasonGroup.Group("/generate")
				generateGroup.Use(GenerationRateLimit())
				{
					generateGroup.POST("/theme", handler.GenerateTheme)
					generateGroup.POST("/breakdown", handler.GenerateBreakdown)
					generateGroup.POST("/week/:week", handler.GenerateWeek)
				}
			}

			calendarGroup := brandGroup.Group("/calendar/:month")
			{
				calendarGroup.GET("", handler.GetCalendar)
				calendarGroup.GET("/schedule", handler.PreviewSchedule)
				calendarGroup.PUT("/items/:date/:channel/perfect", handler.SetItemPerfect)
			}

			queueGroup := brandGroup.Group("/queue/:month")
			{
				queueGroup.POST("", BatchRateLimit(), handler.StartQueue)
				queueGroup.GET("", handler.ActiveQueue)
			}
		}

		// ===============================
		// Queue session routes
		// ===============================
		sessionGroup := api.Group("/queue/:session_id")
		{
			sessionGroup.GET("/status", handler.QueueStatus)
			sessionGroup.POST("/pause", handler.PauseQueue)
			sessionGroup.POST("/resume", handler.ResumeQueue)
			sessionGroup.POST("/cancel", handler.CancelQueue)
		}

		// Progress SSE fallback for clients without websockets
		api.GET("/progress/:taskID", handler.SubscribeProgress)

		// ===============================
		// Persona selector preview
		// ===============================
		api.POST("/personas/select", handler.SelectPersona)

		// ===============================
		// Token budget routes
		// ===============================
		tokensGroup := api.Group("/tokens")
		{
			tokensGroup.GET("/estimates/:endpoint", handler.GetTokenEstimate)

			userTokens := tokensGroup.Group("/users/:user_id")
			{
				userTokens.GET("/balance", handler.GetTokenBalance)
				userTokens.POST("/grant", handler.GrantTokens)
			}
		}

		// ===============================
		// Config health
		// ===============================
		configGroup := api.Group("/config")
		{
			configGroup.GET("/health", handler.GetConfigHealth)
		}

		// WebSocket hub status (debugging)
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r, nil
}

// corsMiddleware enables cross-origin requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-User-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
