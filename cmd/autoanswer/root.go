package main

import (
	"os"

	"github.com/phonginreallife/autoanswer/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "autoanswer",
	Short: "Marketplace question auto-answer service",
	Long: `Answers buyer questions on the marketplace automatically using keyword
rules and absence windows, and keeps the seller's access token healthy.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = os.Getenv("AUTOANSWER_CONFIG_PATH")
		}
		return config.LoadConfig(configPath)
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./config/dev.config.yaml)")
}
