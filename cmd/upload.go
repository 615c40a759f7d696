package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Store and register a local audio file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, nil, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(args[0])
		}

		summary, err := env.Ingester.Ingest(ctx, name, args[0])
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, summary)
	},
}

func init() {
	uploadCmd.Flags().String("name", "", "filename to record (default: base name of the file)")
	rootCmd.AddCommand(uploadCmd)
}
