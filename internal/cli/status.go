package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/valet-ai/valet/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("valet %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("Valet Status")
		fmt.Printf("Version: %s\n", version)

		path, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				fmt.Println("Config:  found (" + path + ")")
			} else {
				fmt.Println("Config:  not found, defaults apply (" + path + ")")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			return
		}
		if key, _ := cfg.APIKey(); key != "" {
			fmt.Println("API key: configured")
		} else {
			fmt.Println("API key: missing")
		}

		url := fmt.Sprintf("http://%s:%d/health", cfg.Gateway.Host, cfg.Gateway.Port)
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			fmt.Println("Gateway: not running")
			return
		}
		defer resp.Body.Close()

		var health struct {
			Status         string `json:"status"`
			UptimeSec      int    `json:"uptime_sec"`
			ActiveSessions int    `json:"active_sessions"`
			BufferedMemory int    `json:"buffered_memory"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			fmt.Println("Gateway: unreadable health response")
			return
		}
		fmt.Printf("Gateway: %s (up %s)\n", health.Status, (time.Duration(health.UptimeSec) * time.Second).String())
		fmt.Printf("Sessions: %d active\n", health.ActiveSessions)
		fmt.Printf("Memory:   %d entries buffered\n", health.BufferedMemory)
	},
}
