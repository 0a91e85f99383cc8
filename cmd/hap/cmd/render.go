package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mantonx/hap/internal/assemble"
	"github.com/mantonx/hap/internal/fetch"
	"github.com/mantonx/hap/internal/mediatool"
	"github.com/mantonx/hap/internal/metrics"
	"github.com/mantonx/hap/internal/model"
	"github.com/mantonx/hap/internal/orchestrator"
	"github.com/mantonx/hap/internal/rundown"
	"github.com/mantonx/hap/internal/tracing"
	"github.com/mantonx/hap/internal/transcribe"
	"github.com/mantonx/hap/internal/transcribe/providers"
)

var (
	rundownPath string
	outputPath  string
	synced      bool
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a rundown into a finished highlight video",
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().StringVar(&rundownPath, "rundown", "", "path to the rundown file (JSON or .yaml/.yml)")
	renderCmd.Flags().StringVar(&outputPath, "out", "", "destination path for the rendered MP4")
	renderCmd.Flags().BoolVar(&synced, "synced", false, "use the synced-narration mixing path instead of the default assembler")
	_ = renderCmd.MarkFlagRequired("rundown")
	_ = renderCmd.MarkFlagRequired("out")
}

func runRender(c *cobra.Command, _ []string) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := os.ReadFile(rundownPath)
	if err != nil {
		return fmt.Errorf("reading rundown file: %w", err)
	}

	var rr model.Rundown
	if strings.HasSuffix(rundownPath, ".yaml") || strings.HasSuffix(rundownPath, ".yml") {
		rr, err = rundown.DecodeYAML(data)
	} else {
		rr, err = rundown.DecodeJSON(data)
	}
	if err != nil {
		return fmt.Errorf("parsing rundown: %w", err)
	}

	media := mediatool.New(logger)

	store, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer store.Close()

	providerList := buildProviders()

	runWorkDir := filepath.Join(os.TempDir(), "hap-cli-"+rr.GameID)
	if err := os.MkdirAll(runWorkDir, 0o755); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(runWorkDir)

	m := metrics.New(prometheus.DefaultRegisterer)
	tracer, shutdownTracing, err := tracing.Setup(ctx, hapConfig.ToTracingConfig())
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	fetcher := fetch.New(logger)
	transcriber := transcribe.New(logger, providerList, store, fetcher, media, transcribe.Config{
		TTL:            hapConfig.Cache.TTL(),
		MaxEntries:     hapConfig.Cache.MaxEntries,
		WorkDir:        runWorkDir,
		ProviderRateHz: hapConfig.Providers.RateHz,
	}, transcribe.WithMetrics(m))
	assembler := assemble.New(logger, media, assemble.WithCrossfade(hapConfig.Pipeline.CrossfadeFrames, assemble.FPS))
	orch := orchestrator.New(logger, media, fetcher, transcriber, assembler, orchestrator.WithMetrics(m), orchestrator.WithTracer(tracer))

	opts := hapConfig.ToOrchestratorOptions()

	var resultPath string
	var statuses []orchestrator.ClipStatus

	if synced {
		logger.Warn("the synced-narration path requires externally supplied action analyses and narration audio; none were provided on the CLI, so clips lacking analysis will be excluded")
		resultPath, statuses, err = orch.AssembleSynced(ctx, rr, nil, nil, opts, outputPath)
	} else {
		resultPath, statuses, err = orch.Assemble(ctx, rr, opts, outputPath)
	}

	for _, s := range statuses {
		if s.State != orchestrator.ClipOK {
			logger.Warn("clip did not make it into the final render", "clip", s.ClipID, "state", s.State, "reason", s.Reason)
		}
	}
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	fmt.Fprintf(os.Stdout, "rendered %s\n", resultPath)
	return nil
}

func buildProviders() []transcribe.Provider {
	var out []transcribe.Provider
	for _, name := range hapConfig.Providers.Names {
		p, err := providers.NewRESTProvider(providers.RESTConfig{
			Name:    name,
			BaseURL: hapConfig.Providers.BaseURLs[name],
			APIKey:  hapConfig.Providers.APIKeys[name],
		})
		if err != nil {
			logger.Warn("skipping unconfigured transcription provider", "provider", name, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out
}
