package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/genesinova/novasite/media"
)

var optimizeFlags struct {
	config     string
	input      string
	output     string
	manifest   string
	publicPath string
	prune      bool
	workers    int
	watch      bool
	debounce   time.Duration
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Generate responsive variants and the media manifest",
	Long: `Scans the input directory, regenerates variants for new or changed images
and rewrites the manifest. Images that fail are reported and skipped; the
command only fails when the configuration is invalid or the manifest cannot
be written.`,
	Args: cobra.NoArgs,
	RunE: runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVarP(&optimizeFlags.config, "config", "c", "", "YAML config file")
	f.StringVar(&optimizeFlags.input, "input", "", "Raw image directory (default assets/raw)")
	f.StringVar(&optimizeFlags.output, "output", "", "Output directory (default public/images/optimized)")
	f.StringVar(&optimizeFlags.manifest, "manifest", "", "Manifest path (default data/media/manifest.json)")
	f.StringVar(&optimizeFlags.publicPath, "public-path", "", "URL prefix of the output directory (default /images/optimized)")
	f.BoolVar(&optimizeFlags.prune, "prune", false, "Drop manifest entries whose source image is gone")
	f.IntVar(&optimizeFlags.workers, "workers", 0, "Images processed in parallel (default 1)")
	f.BoolVarP(&optimizeFlags.watch, "watch", "w", false, "Keep running and re-optimize on changes")
	f.DurationVar(&optimizeFlags.debounce, "debounce", 300*time.Millisecond, "Quiet period before a watch re-run")
}

// optimizeConfig merges the config file with the flags that were set.
func optimizeConfig(cmd *cobra.Command) (media.Config, error) {
	var cfg media.Config
	if optimizeFlags.config != "" {
		loaded, err := media.LoadConfig(optimizeFlags.config)
		if err != nil {
			return media.Config{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.InputDir = optimizeFlags.input
	}
	if flags.Changed("output") {
		cfg.OutputDir = optimizeFlags.output
	}
	if flags.Changed("manifest") {
		cfg.ManifestPath = optimizeFlags.manifest
	}
	if flags.Changed("public-path") {
		cfg.PublicPath = optimizeFlags.publicPath
	}
	if flags.Changed("prune") {
		cfg.Prune = optimizeFlags.prune
	}
	if flags.Changed("workers") {
		cfg.Workers = optimizeFlags.workers
	}
	return cfg, nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := optimizeConfig(cmd)
	if err != nil {
		return err
	}
	p, err := media.NewPipeline(cfg, media.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if optimizeFlags.watch {
		return media.Watch(ctx, p, optimizeFlags.debounce, func(rep *media.Report, err error) {
			if rep != nil && err == nil {
				printReport(cmd, rep)
			}
		})
	}

	rep, err := p.Run(ctx)
	if rep != nil {
		printReport(cmd, rep)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printReport(cmd *cobra.Command, rep *media.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scanned %d, processed %d, up to date %d, failed %d",
		rep.Scanned, len(rep.Processed), len(rep.Skipped), len(rep.Failed))
	if len(rep.Pruned) > 0 {
		fmt.Fprintf(out, ", pruned %d", len(rep.Pruned))
	}
	fmt.Fprintln(out)
	if rep.ManifestReset {
		fmt.Fprintln(out, "previous manifest was unreadable; all images were regenerated")
	}
	failed := make([]string, 0, len(rep.Failed))
	for id := range rep.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(out, "  %s: %v\n", id, rep.Failed[id])
	}
}
