package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/valet-ai/valet/internal/config"
	"github.com/valet-ai/valet/internal/store"
	"github.com/valet-ai/valet/internal/trust"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trusted contacts and the trust policy",
}

var trustOwnerFlag bool
var trustLabelFlag string

func init() {
	trustAddCmd.Flags().BoolVar(&trustOwnerFlag, "owner", false, "mark the contact as owner")
	trustAddCmd.Flags().StringVar(&trustLabelFlag, "label", "", "display label for the contact")
	trustCmd.AddCommand(trustListCmd, trustAddCmd, trustRemoveCmd, trustModeCmd)
}

func withTrustEngine(fn func(ctx context.Context, userID string, eng *trust.Engine) error) {
	cfg, err := config.Load()
	if err != nil {
		fatal("config: %v", err)
	}
	st, err := store.Open(filepath.Join(cfg.Paths.DataDir, "valet.db"))
	if err != nil {
		fatal("open store: %v", err)
	}
	defer st.Close()

	if err := fn(context.Background(), cfg.UserID, trust.NewEngine(st)); err != nil {
		fatal("%v", err)
	}
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted contacts",
	Run: func(cmd *cobra.Command, args []string) {
		withTrustEngine(func(ctx context.Context, userID string, eng *trust.Engine) error {
			mode, err := eng.Mode(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Printf("Mode: %s\n\n", mode)

			contacts, err := eng.ListContacts(ctx, userID)
			if err != nil {
				return err
			}
			if len(contacts) == 0 {
				fmt.Println("No trusted contacts.")
				return nil
			}
			for _, c := range contacts {
				marker := " "
				if c.IsOwner {
					marker = color.YellowString("*")
				}
				label := c.Label
				if label != "" {
					label = " (" + label + ")"
				}
				fmt.Printf("%s %-10s %s%s\n", marker, c.ChannelType, c.Identifier, label)
			}
			return nil
		})
	},
}

var trustAddCmd = &cobra.Command{
	Use:   "add <channel> <identifier>",
	Short: "Add or update a trusted contact",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withTrustEngine(func(ctx context.Context, userID string, eng *trust.Engine) error {
			contact, err := eng.AddContact(ctx, userID, args[0], args[1], trustLabelFlag, trustOwnerFlag)
			if err != nil {
				return err
			}
			role := "contact"
			if contact.IsOwner {
				role = "owner"
			}
			fmt.Printf("Added %s %s on %s\n", role, contact.Identifier, contact.ChannelType)
			return nil
		})
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove <channel> <identifier>",
	Short: "Remove a trusted contact",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withTrustEngine(func(ctx context.Context, userID string, eng *trust.Engine) error {
			if err := eng.RemoveContact(ctx, userID, args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("Removed.")
			return nil
		})
	},
}

var trustModeCmd = &cobra.Command{
	Use:   "mode [owner_only|allowlist|open]",
	Short: "Show or set the trust policy mode",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withTrustEngine(func(ctx context.Context, userID string, eng *trust.Engine) error {
			if len(args) == 0 {
				mode, err := eng.Mode(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Println(mode)
				return nil
			}
			if err := eng.SetMode(ctx, userID, args[0]); err != nil {
				return err
			}
			fmt.Printf("Mode set to %s\n", args[0])
			return nil
		})
	},
}
