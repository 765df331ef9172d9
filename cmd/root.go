/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "clicktodial",
	Short: "Click-to-dial contexts connected through a local hub",
	Long: `Runs one execution context of the click-to-dial core.

The background context owns the VoIP session, persistence and the hub that
tab and popup contexts connect to.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = args
		loadEnvFiles(envFiles)
	},
}

// Execute runs the root command with signal-aware context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env", ".env.local"}, "dotenv files loaded before the config")
}

// loadEnvFiles loads dotenv files. Missing files are skipped and variables
// already set in the environment win.
func loadEnvFiles(files []string) {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Load(file)
	}
}
