package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/orchestrator"
	"github.com/soundguard-ai/soundguard/internal/store"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Inspect and remove registered audio assets",
}

// -- assets list --

var assetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered assets, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		assets, err := st.ListAssets(ctx, store.AssetFilter{Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "assets list")
		}

		if len(assets) == 0 {
			fmt.Fprintln(os.Stderr, "No assets found.")
			return nil
		}

		formatAssetsList(os.Stdout, assets)
		return nil
	},
}

// -- assets show --

var assetsShowCmd = &cobra.Command{
	Use:   "show <asset-id>",
	Short: "Show an asset and its module results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a, err := st.GetAsset(ctx, args[0])
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, a)
		}
		formatAssetDetail(os.Stdout, a)
		return nil
	},
}

// -- assets delete --

var assetsDeleteCmd = &cobra.Command{
	Use:   "delete <asset-id>",
	Short: "Delete an asset and its stored files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, nil, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.DeleteAsset(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted %s\n", args[0])
		return nil
	},
}

func formatAssetsList(out io.Writer, assets []model.Asset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tFORMAT\tDURATION\tSIZE\tAQI\tAUTHENTICITY\tENHANCED\tUPLOADED")
	for i := range assets {
		a := &assets[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			truncate(a.Filename, 32),
			a.Format,
			model.DurationFormatted(a.DurationSeconds),
			model.FileSizeFormatted(a.FileSize),
			scoreCell(a.Processing.AQIScore, model.AQIBand),
			scoreCell(a.Processing.AuthenticityScore, model.AuthenticityBand),
			yesNo(a.Processing.EnhancementComplete),
			a.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush() //nolint:errcheck
}

func formatAssetDetail(out io.Writer, a *model.Asset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", a.ID)
	fmt.Fprintf(w, "Filename:\t%s\n", a.Filename)
	fmt.Fprintf(w, "Source:\t%s\n", a.SourcePath)
	fmt.Fprintf(w, "Format:\t%s\n", a.Format)
	fmt.Fprintf(w, "Duration:\t%s\n", model.DurationFormatted(a.DurationSeconds))
	fmt.Fprintf(w, "Channels:\t%s\n", model.ChannelLabel(a.Channels))
	if a.SampleRate != nil {
		fmt.Fprintf(w, "Sample rate:\t%d Hz\n", *a.SampleRate)
	}
	if a.BitrateKbps != nil {
		fmt.Fprintf(w, "Bitrate:\t%d kbps\n", *a.BitrateKbps)
	}
	fmt.Fprintf(w, "Size:\t%s\n", model.FileSizeFormatted(a.FileSize))
	fmt.Fprintf(w, "Uploaded:\t%s\n", a.CreatedAt.Format("2006-01-02 15:04:05"))
	if a.EnhancedPath != nil {
		fmt.Fprintf(w, "Enhanced:\t%s\n", *a.EnhancedPath)
	}
	fmt.Fprintf(w, "AQI:\t%s\n", scoreCell(a.Processing.AQIScore, model.AQIBand))
	fmt.Fprintf(w, "Authenticity:\t%s\n", scoreCell(a.Processing.AuthenticityScore, model.AuthenticityBand))
	if a.Processing.TamperingDetected != nil {
		fmt.Fprintf(w, "Tampering:\t%s\n", yesNo(*a.Processing.TamperingDetected))
	}
	fmt.Fprintf(w, "Explainability:\t%s\n", yesNo(a.Processing.ExplainabilityComplete))
	w.Flush() //nolint:errcheck
}

func formatOutcomes(out io.Writer, outcomes []orchestrator.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tSTATUS\tDETAIL")
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "%s\terror\t%s\n", o.Module, o.Err.Error())
			continue
		}
		fmt.Fprintf(w, "%s\tcomplete\t%s\n", o.Module, outcomeDetail(o.Result))
	}
	w.Flush() //nolint:errcheck
}

func outcomeDetail(result any) string {
	switch r := result.(type) {
	case *model.QualityResult:
		return fmt.Sprintf("aqi %d (%s)", r.AQIScore, r.AQIBand)
	case *model.ForensicsResult:
		return fmt.Sprintf("authenticity %d (%s), tampering %s", r.AuthenticityScore, r.Band, yesNo(r.TamperingDetected))
	case *model.EnhancementResult:
		return fmt.Sprintf("model %s, %s", r.Model, r.EnhancedFilePath)
	case *model.ExplainabilityResult:
		if r.Report == nil {
			return fmt.Sprintf("%d detections", r.ReducedCount())
		}
		return fmt.Sprintf("%d detections", r.Report.DetectionCount)
	default:
		return ""
	}
}

func scoreCell(score *int, band func(int) string) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%d %s", *score, band(*score))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	assetsListCmd.Flags().Int("limit", 50, "max assets to list")
	assetsListCmd.Flags().Int("offset", 0, "assets to skip")
	assetsShowCmd.Flags().Bool("json", false, "print the full record as JSON")

	assetsCmd.AddCommand(assetsListCmd)
	assetsCmd.AddCommand(assetsShowCmd)
	assetsCmd.AddCommand(assetsDeleteCmd)
	rootCmd.AddCommand(assetsCmd)
}
