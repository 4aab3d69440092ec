package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/valet-ai/valet/internal/agent"
	"github.com/valet-ai/valet/internal/config"
	"github.com/valet-ai/valet/internal/memory"
	"github.com/valet-ai/valet/internal/provider"
	"github.com/valet-ai/valet/internal/session"
	"github.com/valet-ai/valet/internal/skills"
	"github.com/valet-ai/valet/internal/store"
	"github.com/valet-ai/valet/internal/tools"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant locally (one-shot or REPL)",
	Run:   runChat,
}

func runChat(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fatal("config: %v", err)
	}
	apiKey, apiBase := cfg.APIKey()
	if apiKey == "" {
		fatal("no model credential configured")
	}

	st, err := store.Open(filepath.Join(cfg.Paths.DataDir, "valet.db"))
	if err != nil {
		fatal("open store: %v", err)
	}
	defer st.Close()

	buffer := memory.NewBuffer(st, cfg.UserID, time.Duration(cfg.Memory.FlushIntervalSec)*time.Second)
	defer buffer.Flush(context.Background())

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
		Provider:     provider.NewOpenAIProvider(apiKey, apiBase, cfg.Model.Name),
		Tools:        skillMgr,
		Sessions:     session.NewManager(),
		Model:        cfg.Model.Name,
		MaxRounds:    cfg.Model.MaxRounds,
		MaxTokens:    cfg.Model.MaxTokens,
		Temperature:  cfg.Model.Temperature,
		SystemPrompt: cfg.Model.SystemPrompt,
		SkillNames:   skillMgr.EnabledNames,
	})

	const sessionKey = "cli:default"
	ctx := context.Background()

	if len(args) > 0 {
		fmt.Println(loop.HandleMessage(ctx, sessionKey, strings.Join(args, " ")))
		return
	}

	printHeader("Valet Chat")
	fmt.Println("Type a message, or /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(color.GreenString("you> "))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}
		reply := loop.HandleMessage(ctx, sessionKey, line)
		fmt.Println(color.CyanString("valet> ") + reply)
	}
}
