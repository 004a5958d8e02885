package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autolist/services"
)

var (
	normalizeLimit int
	normalizeSite  string

	detectLimit     int
	detectThreshold float64
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize pending listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Normalizer.Run(ctx, services.NormalizeRequest{Limit: normalizeLimit, SiteFilter: normalizeSite})
		if res != nil {
			printNormalizeResult(res)
		}
		return err
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Find duplicate listings among normalized ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req := services.DetectRequest{Limit: detectLimit}
		if cmd.Flags().Changed("threshold") {
			req.Threshold = &detectThreshold
		}
		res, err := env.Detector.Run(ctx, req)
		if res != nil {
			printDetectResult(res)
		}
		return err
	},
}

func init() {
	normalizeCmd.Flags().IntVar(&normalizeLimit, "limit", 0, "max listings to normalize (0 = NORMALIZE_LIMIT)")
	normalizeCmd.Flags().StringVar(&normalizeSite, "site", "", "only normalize listings from this source")

	detectCmd.Flags().IntVar(&detectLimit, "limit", 0, "max listings to compare (0 = DETECT_LIMIT)")
	detectCmd.Flags().Float64Var(&detectThreshold, "threshold", 0.7, "minimum similarity for a duplicate")

	rootCmd.AddCommand(normalizeCmd, detectCmd)
}

func printNormalizeResult(res *services.NormalizeResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("%s run %s\n", cyan("Normalize"), res.RunID)
	fmt.Printf("  processed: %d  successful: %s  failed: %s\n",
		res.Processed, green(res.Successful), red(res.Failed))
	for _, o := range res.Results {
		if !o.Success {
			fmt.Printf("  %s %s: %s\n", red("x"), o.ListingID, o.Error)
			continue
		}
		brand := o.BrandNormalized
		if brand == "" {
			brand = "-"
		}
		fmt.Printf("  %s %s: %q -> %s\n", green("ok"), o.ListingID, o.BrandRaw, brand)
	}
}

func printDetectResult(res *services.DetectResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("%s run %s\n", cyan("Detect"), res.RunID)
	fmt.Printf("  processed: %d  comparisons: %d  duplicates: %s\n",
		res.Processed, res.Comparisons, yellow(res.DuplicatesFound))
	if res.PersistErrors > 0 {
		fmt.Printf("  persist errors: %s\n", red(res.PersistErrors))
	}
	for _, d := range res.Duplicates {
		fmt.Printf("  %s <-> %s  %.3f  %s\n", d.ListingA, d.ListingB, d.Similarity, d.SimilarityType)
	}
}
