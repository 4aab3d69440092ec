package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valet-ai/valet/internal/agent"
	"github.com/valet-ai/valet/internal/audit"
	"github.com/valet-ai/valet/internal/bus"
	"github.com/valet-ai/valet/internal/channels"
	"github.com/valet-ai/valet/internal/config"
	"github.com/valet-ai/valet/internal/gateway"
	"github.com/valet-ai/valet/internal/heartbeat"
	"github.com/valet-ai/valet/internal/memory"
	"github.com/valet-ai/valet/internal/provider"
	"github.com/valet-ai/valet/internal/session"
	"github.com/valet-ai/valet/internal/skills"
	"github.com/valet-ai/valet/internal/store"
	"github.com/valet-ai/valet/internal/subagent"
	"github.com/valet-ai/valet/internal/tools"
	"github.com/valet-ai/valet/internal/trust"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the assistant runtime (channels, heartbeat, control plane)",
	Run:   runGateway,
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("Valet Gateway")

	cfg, err := config.Load()
	if err != nil {
		fatal("config: %v", err)
	}
	apiKey, apiBase := cfg.APIKey()
	if apiKey == "" {
		fatal("no model credential configured: set providers.openai.apiKey or providers.openrouter.apiKey (or VALET_API_KEY)")
	}

	st, err := store.Open(filepath.Join(cfg.Paths.DataDir, "valet.db"))
	if err != nil {
		fatal("open store: %v", err)
	}
	defer st.Close()

	prov := provider.NewOpenAIProvider(apiKey, apiBase, cfg.Model.Name)
	messageBus := bus.NewMessageBus()
	sessions := session.NewManager()
	buffer := memory.NewBuffer(st, cfg.UserID, time.Duration(cfg.Memory.FlushIntervalSec)*time.Second)

	registry := tools.NewRegistry()
	registry.Register(tools.NewWebSearchTool(cfg.Tools.SearchAPIKey, cfg.Tools.SearchAPIBase))
	registry.Register(tools.NewWebFetchTool())
	registry.Register(tools.NewWeatherTool())
	registry.Register(tools.NewCalculatorTool())
	registry.Register(tools.NewRememberTool(buffer.Add))
	registry.Register(tools.NewReminderTool(buffer.Add))
	registry.Register(tools.NewDatetimeTool())

	skillMgr := skills.NewManager(registry, st)
	if err := skillMgr.Reload(context.Background()); err != nil {
		fatal("load skills: %v", err)
	}

	loop := agent.NewLoop(agent.LoopOptions{
		Provider:     prov,
		Tools:        skillMgr,
		Sessions:     sessions,
		Model:        cfg.Model.Name,
		MaxRounds:    cfg.Model.MaxRounds,
		MaxTokens:    cfg.Model.MaxTokens,
		Temperature:  cfg.Model.Temperature,
		SystemPrompt: cfg.Model.SystemPrompt,
		SkillNames:   skillMgr.EnabledNames,
	})

	trustEngine := trust.NewEngine(st)

	var exporter *audit.Exporter
	if cfg.Audit.Enabled {
		exporter = audit.NewExporter(cfg.Audit.KafkaBrokers, cfg.Audit.Topic)
		defer exporter.Close()
	}
	if exporter != nil {
		trustEngine.SetObserver(exporter)
	}

	engine := subagent.NewEngine(subagent.Options{
		Store:         st,
		Provider:      prov,
		SearchAPIKey:  cfg.Tools.SearchAPIKey,
		SearchAPIBase: cfg.Tools.SearchAPIBase,
		Model:         cfg.Subagents.Model,
		MaxConcurrent: cfg.Subagents.MaxConcurrent,
		MaxSteps:      cfg.Subagents.MaxSteps,
		Observer:      exporter,
	})

	var adapters []channels.Channel
	if cfg.Channels.WhatsApp.Enabled {
		adapters = append(adapters, channels.NewWhatsAppChannel(messageBus, cfg.Paths.DataDir))
	}
	if cfg.Channels.Slack.Enabled {
		adapters = append(adapters, channels.NewSlackChannel(cfg.Channels.Slack, messageBus))
	}

	router := channels.NewRouter(messageBus, trustEngine, loop, skillMgr, cfg.UserID, adapters...)
	hb := heartbeat.NewScheduler(st, loop, messageBus, cfg.Heartbeat, cfg.UserID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Start(ctx)
	defer router.Stop()

	go buffer.Run(ctx)
	go func() {
		if err := router.Run(ctx); err != nil {
			fatal("router: %v", err)
		}
	}()
	if err := hb.Start(ctx); err != nil {
		fatal("heartbeat: %v", err)
	}
	defer hb.Stop()
	defer engine.Shutdown()

	srv := gateway.NewServer(gateway.Options{
		Host:      cfg.Gateway.Host,
		Port:      cfg.Gateway.Port,
		AuthToken: cfg.Gateway.AuthToken,
		UserID:    cfg.UserID,
		Loop:      loop,
		Sessions:  sessions,
		Memory:    buffer,
		Skills:    skillMgr,
		Router:    router,
		Heartbeat: hb,
		Subagents: engine,
		Reload: func(ctx context.Context) error {
			if err := skillMgr.Reload(ctx); err != nil {
				return err
			}
			return hb.Restart(ctx)
		},
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		fatal("gateway: %v", err)
	}
}
