// Package cli implements the valet command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/valet-ai/valet/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"                 _      _\n" +
		" __   __  __ _  | |  ___| |_\n" +
		" \\ \\ / / / _` | | | / _ \\ __|\n" +
		"  \\ V / | (_| | | ||  __/ |_\n" +
		"   \\_/   \\__,_| |_| \\___|\\__|\n"
)

var rootCmd = &cobra.Command{
	Use:   "valet",
	Short: "Valet - personal AI assistant",
	Long:  color.CyanString(logo) + "\nA per-user personal assistant runtime: channels, memory, heartbeat, sub-agents.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	setupLogging()
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(trustCmd)
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("VALET_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, color.RedString("Error: ")+format+"\n", args...)
	os.Exit(1)
}
