package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"spdropbot/internal/admin"
	"spdropbot/internal/agent"
	"spdropbot/internal/buffer"
	"spdropbot/internal/bus"
	"spdropbot/internal/channel"
	"spdropbot/internal/config"
	"spdropbot/internal/domain"
	"spdropbot/internal/knowledge"
	"spdropbot/internal/metrics"
	"spdropbot/internal/pipeline"
	"spdropbot/internal/provider"
	"spdropbot/internal/store"
	"spdropbot/internal/tool"

	"github.com/spf13/cobra"
)

const (
	shutdownTimeout     = 10 * time.Second
	trialSweepInterval  = time.Hour
	outcomeHistoryLimit = 200
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, the message pipeline and the admin API",
		Long:  "Starts the WhatsApp webhook, the debounce buffers, the agent and the admin API. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	release, err := setupLogger(cfg.General)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	catalog, err := knowledge.LoadFAQ(cfg.Knowledge.FAQFile, logger)
	if err != nil {
		return fmt.Errorf("faq: %w", err)
	}
	scripts, err := knowledge.LoadScripts(cfg.Knowledge.ScriptsFile, logger)
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	systemPrompt, err := agent.LoadSystemPrompt(cfg.LLM.SystemPromptFile, logger)
	if err != nil {
		return fmt.Errorf("system prompt: %w", err)
	}

	chat := newChatProvider(cfg.LLM)
	if err := chat.Healthy(ctx); err != nil {
		logger.Warn("LLM provider unhealthy at startup", "provider", chat.Name(), "err", err)
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:      chat,
		History:       st,
		Prompt:        agent.NewPromptBuilder(systemPrompt),
		Tools:         registerTools(cfg, st, catalog, scripts),
		Filter:        agent.NewToolFilter(cfg.LLM.DisabledTools),
		Logger:        logger,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxIterations: cfg.LLM.MaxIterations,
		HistoryLimit:  cfg.LLM.HistoryLimit,
		ParallelTools: cfg.LLM.ParallelTools,
	})

	bridge := channel.NewBridge(channel.BridgeConfig{
		BaseURL:       cfg.WhatsApp.BridgeURL,
		RatePerSecond: cfg.WhatsApp.SendRatePerSecond,
		Burst:         cfg.WhatsApp.SendBurst,
		Logger:        logger,
	})
	if err := bridge.Health(ctx); err != nil {
		logger.Warn("whatsapp bridge not reachable at startup", "url", cfg.WhatsApp.BridgeURL, "err", err)
	}

	p := cfg.Pipeline
	processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Customers: st,
		Memories:  st,
		Agent:     loop,
		Lane:      pipeline.NewLane(p.AgentLaneSize),
		Paginator: pipeline.NewPaginator(pipeline.PaginatorConfig{
			Transport:    bridge,
			Threshold:    p.ChunkThreshold,
			MinDelay:     p.MinDelay(),
			MaxDelay:     p.MaxDelay(),
			PerCharDelay: p.PerCharDelay(),
			Logger:       logger,
		}),
		Transport: bridge,
		Apology:   p.Apology,
		Logger:    logger,
	})

	events := bus.NewEventBus(outcomeHistoryLimit, logger)
	sinks := []domain.OutcomeSink{metrics.OutcomeRecorder{}, events}
	if cfg.Events.Enabled {
		pub, err := bus.DialAMQP(cfg.Events.URL, cfg.Events.Exchange, logger)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		outcomes := bus.NewOutcomePublisher(pub, cfg.Events.RoutingKey, logger)
		defer outcomes.Close()
		sinks = append(sinks, outcomes)
		logger.Info("publishing outcomes", "exchange", cfg.Events.Exchange, "routingKey", cfg.Events.RoutingKey)
	}

	dispatcher := pipeline.NewDispatcher(pipeline.DispatcherConfig{
		Handler: processor,
		Sinks:   sinks,
		Timeout: p.DispatchTimeout(),
		Logger:  logger,
	})
	buffers := buffer.New(buffer.Config{
		QuietPeriod: p.QuietPeriod(),
		Dispatch:    dispatcher.Dispatch,
		Logger:      logger,
	})

	webhook := channel.NewWebhook(channel.WebhookConfig{
		ListenAddr:   cfg.WhatsApp.ListenAddr,
		Path:         cfg.WhatsApp.WebhookPath,
		Secret:       cfg.WhatsApp.WebhookSecret,
		Buffer:       buffers,
		Transcriber:  newTranscriber(cfg.Transcription),
		Describer:    newDescriber(cfg.Vision),
		MediaTimeout: time.Duration(cfg.WhatsApp.MediaTimeoutSeconds) * time.Second,
		Logger:       logger,
	})

	var metricsHandler http.Handler
	extra := map[string]http.Handler{}
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Collector.Handler()
		extra["GET "+cfg.Metrics.Endpoint] = metricsHandler
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return webhook.Start(gctx, extra) })
	if cfg.Admin.Enabled {
		adminSrv := admin.NewServer(admin.Config{
			ListenAddr: cfg.Admin.ListenAddr,
			APIKey:     cfg.Admin.APIKey,
			Store:      st,
			WhatsApp:   bridge,
			Buffers:    buffers,
			Outcomes:   events,
			Metrics:    metricsHandler,
			Logger:     logger,
		})
		g.Go(func() error { return adminSrv.Start(gctx) })
	}
	g.Go(func() error {
		sweepTrials(gctx, st)
		return nil
	})

	logger.Info("spdropbot started",
		"version", version,
		"webhook", cfg.WhatsApp.ListenAddr+cfg.WhatsApp.WebhookPath,
		"quietPeriod", p.QuietPeriod(),
		"lane", p.AgentLaneSize,
		"provider", chat.Name(),
		"faq", catalog.Len(),
	)

	runErr := g.Wait()
	logger.Info("shutting down")

	// Bursts still waiting for their quiet period are dropped; in-flight
	// messages get shutdownTimeout to finish.
	done := make(chan struct{})
	go func() {
		webhook.Wait()
		if dropped := buffers.Stop(); dropped > 0 {
			logger.Warn("dropped pending buffers", "count", dropped)
		}
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out with messages in flight")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown timed out")
		}
	}
	return runErr
}

func newChatProvider(c config.LLMConfig) domain.Provider {
	primary := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:            c.APIKey,
		APIBase:           c.APIBase,
		Model:             c.Model,
		RequestsPerMinute: c.RequestsPerMinute,
		Logger:            logger,
	})
	if len(c.FallbackModels) == 0 {
		return primary
	}
	chain := []domain.Provider{primary}
	for _, model := range c.FallbackModels {
		chain = append(chain, provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:            c.APIKey,
			APIBase:           c.APIBase,
			Model:             model,
			RequestsPerMinute: c.RequestsPerMinute,
			Logger:            logger,
		}))
	}
	return provider.NewFailover(chain, logger)
}

func newTranscriber(c config.TranscriptionConfig) domain.Transcriber {
	if !c.Enabled || c.APIKey == "" {
		logger.Info("audio transcription disabled")
		return nil
	}
	return provider.NewWhisper(provider.WhisperConfig{
		APIBase:  c.APIBase,
		APIKey:   c.APIKey,
		Model:    c.Model,
		Language: c.Language,
		Logger:   logger,
	})
}

func newDescriber(c config.VisionConfig) domain.ImageDescriber {
	if !c.Enabled || c.APIKey == "" {
		logger.Info("image description disabled")
		return nil
	}
	chat := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  c.APIKey,
		APIBase: c.APIBase,
		Model:   c.Model,
		Logger:  logger,
	})
	return provider.NewVision(chat, provider.VisionConfig{Model: c.Model, MaxTokens: c.MaxTokens, Logger: logger})
}

// registerTools creates and registers every tool the sales agent may call.
func registerTools(cfg *config.Config, st *store.Store, catalog *knowledge.Catalog, scripts *knowledge.Scripts) *tool.Registry {
	reg := tool.NewRegistry(logger)
	reg.Register(tool.NewFAQSearchTool(catalog, cfg.Knowledge.MinConfidence))
	reg.Register(tool.NewFAQListTool(catalog))
	reg.Register(tool.NewFAQKeywordTool(catalog))
	reg.Register(tool.NewSaveMemoryTool(st))
	reg.Register(tool.NewGetMemoriesTool(st))
	reg.Register(tool.NewGetHistoryTool(st))
	reg.Register(tool.NewCreateTrialTool(st))
	reg.Register(tool.NewListTrialsTool(st))
	reg.Register(tool.NewDemoAccountTool(tool.DemoCredentials{
		URL:      cfg.Demo.URL,
		Username: cfg.Demo.Username,
		Password: cfg.Demo.Password,
	}))
	if scripts.Len() > 0 {
		reg.Register(tool.NewScriptSearchTool(scripts))
	}
	return reg
}

// sweepTrials marks lapsed trials as expired until ctx is done.
func sweepTrials(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(trialSweepInterval)
	defer ticker.Stop()
	for {
		if n, err := st.ExpireTrials(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Warn("trial sweep failed", "err", err)
			}
		} else if n > 0 {
			logger.Info("trials expired", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
