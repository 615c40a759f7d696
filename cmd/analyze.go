package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <module|all> <asset-id>",
	Short: "Run an analysis module against a registered asset",
	Long: `Runs one module (enhancement, explainability, aqi, forensics, or the
aliases enhance, explain, quality) or all of them against an asset.
Progress is printed to stderr and the result to stdout.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts, err := enhanceOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initApp(ctx, &progressPrinter{out: os.Stderr}, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		if args[0] == "all" {
			outcomes, err := env.Orchestrator.RunAll(ctx, args[1], opts)
			if err != nil {
				return err
			}
			formatOutcomes(os.Stdout, outcomes)
			for _, o := range outcomes {
				if o.Err != nil {
					return eris.New("one or more modules failed")
				}
			}
			return nil
		}

		module, ok := model.ParseModule(args[0])
		if !ok {
			return apperr.Validation("analyze", "unknown module %q", args[0])
		}
		result, err := env.Orchestrator.Run(ctx, args[1], module, opts)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, result)
	},
}

// enhanceOptionsFromFlags only sets the knobs the user passed so defaults
// stay with model.EnhanceOptions.Resolve.
func enhanceOptionsFromFlags(cmd *cobra.Command) (model.EnhanceOptions, error) {
	var opts model.EnhanceOptions
	flags := cmd.Flags()

	opts.Model, _ = flags.GetString("model")
	opts.ProcessingMode, _ = flags.GetString("mode")
	if flags.Changed("strength") {
		v, err := flags.GetInt("strength")
		if err != nil {
			return opts, err
		}
		opts.NoiseReductionStrength = &v
	}
	if flags.Changed("preserve-speech") {
		v, err := flags.GetBool("preserve-speech")
		if err != nil {
			return opts, err
		}
		opts.PreserveSpeech = &v
	}
	return opts, nil
}

// progressPrinter writes progress events as lines. RunAll emits from
// several goroutines.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *progressPrinter) Emit(ev model.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Error != "" {
		fmt.Fprintf(p.out, "[%s] %s: %s (%s)\n", ev.AssetID, ev.Module, ev.Status, ev.Error)
		return
	}
	fmt.Fprintf(p.out, "[%s] %s: %s\n", ev.AssetID, ev.Module, ev.Status)
}

func init() {
	f := analyzeCmd.Flags()
	f.String("model", "", "enhancement model (default "+model.DefaultEnhancementModel+")")
	f.Int("strength", 80, "noise reduction strength, 0-100")
	f.Bool("preserve-speech", true, "keep speech intact during enhancement")
	f.String("mode", "", "processing mode: Fast, Balanced or Quality")
	rootCmd.AddCommand(analyzeCmd)
}
