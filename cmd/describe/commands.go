package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anime-shed/image-describer-go/internal/config"
	"github.com/anime-shed/image-describer-go/internal/container"
	"github.com/anime-shed/image-describer-go/internal/logger"
	"github.com/anime-shed/image-describer-go/internal/source"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

func newRootCmd() *cobra.Command {
	defaults := config.Defaults()

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Caption and tag images with Azure AI Vision",
		Long: `Caption and tag images with Azure AI Vision.

Results are appended to a JSONL file (and optionally CSV), with the raw
service response of every success stored next to it.

Examples:
  describe --image ./cat.jpg
  describe --dir ./photos --top-k 3 --threshold 0.4 --csv
  describe --urls urls.txt --no-raw --sqlite out/results.db`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unexpected arguments: %s", strings.Join(args, " ")))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), cmd, cmd.OutOrStdout())
		},
	}
	cmd.SetVersionTemplate(versionString() + "\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	f := cmd.Flags()
	f.String("image", "", "path or URL of a single image")
	f.String("dir", "", "directory scanned recursively for images")
	f.String("urls", "", "text file with one image URL per line")
	f.Int("top-k", defaults.TopK, "tags kept per image")
	f.Float64("threshold", 0, "minimum tag confidence in [0,1] (unset keeps all tags)")
	f.String("out", defaults.OutputPath, "JSONL output path")
	f.Bool("csv", false, "also append a CSV summary")
	f.String("csv-out", defaults.CSVPath, "CSV output path")
	f.Bool("no-raw", false, "skip per-image raw JSON files")
	f.String("raw-dir", defaults.RawDir, "directory for raw JSON files")
	f.String("sqlite", "", "mirror records into this SQLite database")
	f.String("blob-container", "", "mirror raw responses into this Azure blob container")
	f.String("status-addr", "", "serve /health and /status on this address while running")
	f.String("config", "", "YAML configuration file")
	f.String("log-level", "", "debug, info, warn or error")
	f.BoolVar(&noColor, "no-color", noColor, "disable colored output")

	return cmd
}

// applyFlags overrides configuration with every flag given explicitly
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("top-k") {
		cfg.TopK, _ = f.GetInt("top-k")
	}
	if f.Changed("threshold") {
		t, _ := f.GetFloat64("threshold")
		cfg.Threshold = &t
	}
	if f.Changed("out") {
		cfg.OutputPath, _ = f.GetString("out")
	}
	if f.Changed("csv") {
		cfg.CSVEnabled, _ = f.GetBool("csv")
	}
	if f.Changed("csv-out") {
		cfg.CSVPath, _ = f.GetString("csv-out")
	}
	if f.Changed("no-raw") {
		noRaw, _ := f.GetBool("no-raw")
		cfg.RawEnabled = !noRaw
	}
	if f.Changed("raw-dir") {
		cfg.RawDir, _ = f.GetString("raw-dir")
	}
	if f.Changed("sqlite") {
		cfg.SQLitePath, _ = f.GetString("sqlite")
	}
	if f.Changed("blob-container") {
		cfg.BlobContainer, _ = f.GetString("blob-container")
	}
	if f.Changed("status-addr") {
		cfg.StatusAddress, _ = f.GetString("status-addr")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
}

func inputFromFlags(cmd *cobra.Command) source.Input {
	image, _ := cmd.Flags().GetString("image")
	dir, _ := cmd.Flags().GetString("dir")
	urls, _ := cmd.Flags().GetString("urls")
	return source.Input{
		Image:   strings.TrimSpace(image),
		Dir:     strings.TrimSpace(dir),
		URLList: strings.TrimSpace(urls),
	}
}

func execute(ctx context.Context, cmd *cobra.Command, out io.Writer) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return usageError(err)
	}
	applyFlags(cmd, cfg)
	logger.Configure(cfg.LogLevel, nil)

	if err := cfg.Validate(); err != nil {
		return usageError(fmt.Errorf("invalid configuration: %w", err))
	}

	c, err := container.NewContainer(ctx, cfg, out)
	if err != nil {
		return usageError(err)
	}
	defer c.Close()

	sources, err := c.Resolver().Resolve(inputFromFlags(cmd))
	if err != nil {
		return usageError(err)
	}

	summary, err := runBatch(ctx, c, sources)
	if err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		printWarning(cmd.ErrOrStderr(), "closing outputs: %v", err)
	}

	fmt.Fprintln(out)
	printSuccess(out, "Done. %d/%d succeeded. JSONL: %s", summary.Succeeded, summary.Total, cfg.OutputPath)
	printStatus(out, "Failed", "%d", summary.Failed)
	printStatus(out, "Skipped", "%d", summary.Skipped)
	printStatus(out, "Run", "%s (%s)", summary.RunID, summary.Duration.Round(time.Millisecond))

	if ctx.Err() != nil && summary.Skipped > 0 {
		printWarning(cmd.ErrOrStderr(), "interrupted, %d item(s) skipped", summary.Skipped)
		return errInterrupted
	}
	return nil
}

// runBatch runs the batch and, when configured, the status server alongside it
func runBatch(ctx context.Context, c *container.Container, sources []models.SourceDescriptor) (models.BatchSummary, error) {
	var summary models.BatchSummary

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		var err error
		summary, err = c.BatchService().Run(ctx, sources)
		return err
	})

	if srv := c.StatusServer(); srv != nil {
		g.Go(func() error {
			if err := srv.Run(serverCtx); err != nil {
				// The batch keeps going without its status endpoint
				c.Log().WithError(err).Error("Status server failed")
			}
			return nil
		})
	}

	err := g.Wait()
	return summary, err
}
