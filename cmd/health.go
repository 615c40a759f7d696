package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the record store and the analysis service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		env, err := initApp(ctx, nil, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		results := map[string]error{
			"store":    env.Store.Ping(ctx),
			"analysis": env.Gateway.Health(ctx),
		}
		if !formatHealth(os.Stdout, results) {
			return eris.New("one or more dependencies are unhealthy")
		}
		return nil
	},
}

// formatHealth prints one line per check and reports whether all passed.
func formatHealth(out io.Writer, results map[string]error) bool {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		if err := results[name]; err != nil {
			healthy = false
			fmt.Fprintf(out, "%-10s FAIL  %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "%-10s ok\n", name)
	}
	return healthy
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
