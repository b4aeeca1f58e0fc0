/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/mautops/batch-approval/internal/container"
	"github.com/spf13/cobra"
)

// repairCmd represents the repair command
var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-run pending and failed batch side effects",
	Long: `Re-run the side effects of promoted submissions and the event
deliveries that are still pending or have failed. Every event is
attempted once; events that fail again stay failed and are picked up
by the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		// 不启动 worker 和 HTTP 服务,只使用分发器
		cfg.Events.Workers = 0
		ctr, err := container.NewContainer(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		start := time.Now()
		repaired, err := ctr.EventDispatcher().ProcessPending(ctx, limit)
		out := cmd.OutOrStdout()
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", color.RedString("repair failed:"), err)
			return err
		}
		fmt.Fprintf(out, "%s %d event(s) processed in %s\n",
			color.GreenString("repair finished:"), repaired, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)

	repairCmd.Flags().Int("limit", 500, "Maximum number of events to process")
	repairCmd.Flags().Duration("timeout", 5*time.Minute, "Maximum run time")
}
