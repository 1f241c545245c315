package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/phonginreallife/autoanswer/services"
)

var (
	tokenTTL     time.Duration
	tokenRefresh string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect and manage the marketplace access token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <access-token>",
	Short: "Install a manually obtained access token",
	Example: `  autoanswer token set APP_USR-123 --ttl 6h
  autoanswer token set APP_USR-123 --ttl 6h --refresh-token TG-456`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenTTL < 0 {
			return errors.New("--ttl must not be negative")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// The monitor dies with this process, so an unsaved token is a failure here.
		if err := a.Monitor.SetToken(cmd.Context(), args[0], int64(tokenTTL/time.Second), tokenRefresh); err != nil {
			return err
		}
		return printSnapshot(a.Monitor.Snapshot())
	},
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted token state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return printSnapshot(a.Monitor.Snapshot())
	},
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Monitor.Refresh(cmd.Context()); err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		return printSnapshot(a.Monitor.Snapshot())
	},
}

func printSnapshot(s services.TokenSnapshot) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenStatusCmd)
	tokenCmd.AddCommand(tokenRefreshCmd)

	tokenSetCmd.Flags().DurationVar(&tokenTTL, "ttl", 6*time.Hour, "Remaining lifetime of the token")
	tokenSetCmd.Flags().StringVar(&tokenRefresh, "refresh-token", "", "Refresh token to store alongside (keeps the current one when empty)")
}
