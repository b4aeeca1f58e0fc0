/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"

	"github.com/mautops/batch-approval/internal/auth"
	"github.com/spf13/cobra"
)

// fgaModelCmd represents the fga-model command
var fgaModelCmd = &cobra.Command{
	Use:   "fga-model",
	Short: "Print the OpenFGA authorization model",
	Long: `Print the OpenFGA authorization model used for batch permissions in DSL form.
Write it to the store with the fga CLI, then set openfga.model_id to the returned id:

  batch-approval fga-model > model.fga
  fga model write --store-id <store> --file model.fga`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), auth.GetPermissionModel())
	},
}

func init() {
	rootCmd.AddCommand(fgaModelCmd)
}
