package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/setanarut/labelprop"
	"github.com/setanarut/labelprop/utils"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "labelprop",
		Short:         "Propagate video labels with feature affinities",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(newRunCmd(), newContextCmd())
	return rootCmd
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		outDir     string
		debug      bool
		anchors    string
		kind       string
		palette    string
		opt        = labelprop.DefaultOptions()
	)
	cmd := &cobra.Command{
		Use:   "run DATASET_DIR",
		Short: "Propagate the first annotations of every video in DATASET_DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(debug)
			loaded, err := labelprop.LoadOptions(configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &loaded, opt, anchors, kind, palette); err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), loaded, args[0], outDir)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "YAML options file")
	flags.StringVar(&outDir, "out", "results", "output directory")
	flags.BoolVar(&debug, "debug", false, "debug logging")
	flags.IntVar(&opt.NContext, "n-context", opt.NContext, "short-term context length")
	flags.StringVar(&anchors, "anchors", "0", "comma separated long-term anchors")
	flags.Float64Var(&opt.Radius, "radius", opt.Radius, "spatial mask radius")
	flags.Float64Var(&opt.Temperature, "temperature", opt.Temperature, "softmax temperature")
	flags.IntVar(&opt.TopK, "topk", opt.TopK, "neighbours per pixel")
	flags.BoolVar(&opt.NormalizeOutput, "norm-mask", opt.NormalizeOutput, "min-max rescale predictions for display")
	flags.BoolVar(&opt.NormalizeFeatures, "l2", opt.NormalizeFeatures, "L2-normalise features")
	flags.IntVar(&opt.VideoWorkers, "video-workers", opt.VideoWorkers, "videos processed concurrently")
	flags.Int64Var(&opt.MemoryBudgetMB, "memory-budget-mb", opt.MemoryBudgetMB, "affinity working set budget, 0 = unlimited")
	flags.IntVar(&opt.MapScale, "map-scale", opt.MapScale, "colour encoder block size")
	flags.StringVar(&kind, "kind", "segmentation", "segmentation or pose")
	flags.StringVar(&palette, "palette", "exact", "annotation palette method: exact, dominantcolor or kmeans")
	flags.IntVar(&opt.MaxLabels, "max-labels", opt.MaxLabels, "label colours per video, background included")
	return cmd
}

// applyFlags copies only the flags the user set on top of the loaded options.
func applyFlags(cmd *cobra.Command, dst *labelprop.Options, src labelprop.Options, anchors, kind, palette string) error {
	f := cmd.Flags()
	if f.Changed("n-context") {
		dst.NContext = src.NContext
	}
	if f.Changed("radius") {
		dst.Radius = src.Radius
	}
	if f.Changed("temperature") {
		dst.Temperature = src.Temperature
	}
	if f.Changed("topk") {
		dst.TopK = src.TopK
	}
	if f.Changed("norm-mask") {
		dst.NormalizeOutput = src.NormalizeOutput
	}
	if f.Changed("l2") {
		dst.NormalizeFeatures = src.NormalizeFeatures
	}
	if f.Changed("video-workers") {
		dst.VideoWorkers = src.VideoWorkers
	}
	if f.Changed("memory-budget-mb") {
		dst.MemoryBudgetMB = src.MemoryBudgetMB
	}
	if f.Changed("map-scale") {
		dst.MapScale = src.MapScale
	}
	if f.Changed("max-labels") {
		dst.MaxLabels = src.MaxLabels
	}
	if f.Changed("anchors") {
		a, err := labelprop.ParseAnchors(anchors)
		if err != nil {
			return err
		}
		dst.LongTermAnchors = a
	}
	if f.Changed("kind") {
		k, err := labelprop.ParseDatasetKind(kind)
		if err != nil {
			return err
		}
		dst.Kind = k
	}
	if f.Changed("palette") {
		m, err := labelprop.ParsePaletteMethod(palette)
		if err != nil {
			return err
		}
		dst.PaletteMethod = m
	}
	return nil
}

func run(ctx context.Context, opt labelprop.Options, datasetDir, outDir string) error {
	slog.Info("labelprop", "n_context", opt.NContext, "anchors", opt.LongTermAnchors,
		"radius", opt.Radius, "temperature", opt.Temperature, "topk", opt.TopK, "kind", opt.Kind, "palette", opt.PaletteMethod)

	ds, err := utils.NewDirDataset(datasetDir, opt)
	if err != nil {
		return err
	}
	p, err := labelprop.NewPipeline(opt, labelprop.ColorEncoder{Scale: opt.MapScale})
	if err != nil {
		return err
	}
	rep, err := p.RunDataset(ctx, ds, func(_ context.Context, idx int, r *labelprop.Result) error {
		return utils.SaveResult(outDir, idx, r)
	})
	slog.Info("finished", "done", len(rep.Done), "failed", len(rep.Failed))
	if err != nil {
		return err
	}
	if len(rep.Failed) > 0 {
		return fmt.Errorf("%d of %d videos failed", len(rep.Failed), ds.Len())
	}
	return nil
}

func newContextCmd() *cobra.Command {
	var (
		frames, nContext int
		anchors          string
	)
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the source frames of every target frame",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := labelprop.ParseAnchors(anchors)
			if err != nil {
				return err
			}
			bank, err := labelprop.BuildContextIndexBank(nContext, a, frames-nContext)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for t := range bank.Len() {
				fmt.Fprintf(out, "frame %3d <- %v\n", bank.Frame(t), bank.Sources(t))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 30, "video length")
	cmd.Flags().IntVar(&nContext, "n-context", 20, "short-term context length")
	cmd.Flags().StringVar(&anchors, "anchors", "0", "comma separated long-term anchors")
	return cmd
}
