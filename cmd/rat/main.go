package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-rat/internal/batchio"
	"github.com/23skdu/longbow-rat/internal/config"
	"github.com/23skdu/longbow-rat/internal/eval"
	"github.com/23skdu/longbow-rat/internal/logger"
	"github.com/23skdu/longbow-rat/internal/model"
	"github.com/23skdu/longbow-rat/internal/server"
)

type predictCmd struct {
	Config string `arg:"--config,required" help:"model config YAML"`
	Input  string `arg:"--input" help:"Arrow IPC stream of batches"`
	Flight string `arg:"--flight" help:"Flight server address to read batches from"`
	Ticket string `arg:"--ticket" default:"eval" help:"Flight ticket"`
}

type serveCmd struct {
	Config string `arg:"--config,required" help:"model config YAML"`
	Addr   string `arg:"--addr" default:":8080" help:"HTTP listen address"`
}

type demoCmd struct {
	Config  string `arg:"--config" help:"model config YAML (built-in toy schema when empty)"`
	Batch   int    `arg:"--batch" default:"8" help:"instances per batch"`
	Batches int    `arg:"--batches" default:"1" help:"number of batches"`
	K       int    `arg:"-k" default:"4" help:"retrieved neighbours per instance"`
	Output  string `arg:"--output" help:"also write the batches as an Arrow IPC stream"`
}

type publishCmd struct {
	Config string `arg:"--config,required" help:"model config YAML"`
	Input  string `arg:"--input,required" help:"Arrow IPC stream of batches"`
	Addr   string `arg:"--addr" help:"Flight listen address"`
	Ticket string `arg:"--ticket" default:"eval" help:"ticket the batches are served under"`
}

type args struct {
	Predict *predictCmd `arg:"subcommand:predict" help:"score batches from a file or Flight server"`
	Serve   *serveCmd   `arg:"subcommand:serve" help:"serve predictions over HTTP"`
	Demo    *demoCmd    `arg:"subcommand:demo" help:"score synthetic batches"`
	Publish *publishCmd `arg:"subcommand:publish" help:"serve a batch file over Arrow Flight"`

	LogLevel  string `arg:"--log-level,env:RAT_LOG_LEVEL" help:"debug, info, warn or error (overrides config)"`
	LogFormat string `arg:"--log-format,env:RAT_LOG_FORMAT" help:"console or json (overrides config)"`
}

func (args) Description() string {
	return "rat scores targets with a retrieval-augmented transformer over their labelled neighbours"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}
	logger.Setup(pick(a.LogLevel, "info"), pick(a.LogFormat, "console"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case a.Predict != nil:
		err = runPredict(ctx, a, a.Predict)
	case a.Serve != nil:
		err = runServe(ctx, a, a.Serve)
	case a.Demo != nil:
		err = runDemo(ctx, a, a.Demo)
	case a.Publish != nil:
		err = runPublish(ctx, a, a.Publish)
	}
	if err != nil {
		logger.Log.Error("rat failed", err)
		os.Exit(1)
	}
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func loadConfig(a args, path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	logger.Setup(pick(a.LogLevel, cfg.LogLevel), pick(a.LogFormat, cfg.LogFormat))
	return cfg, nil
}

func logCPU() {
	logger.Log.Info("cpu",
		"brand", cpuid.CPU.BrandName,
		"physical_cores", cpuid.CPU.PhysicalCores,
		"logical_cores", cpuid.CPU.LogicalCores,
		"avx2", cpuid.CPU.Supports(cpuid.AVX2),
		"fma", cpuid.CPU.Supports(cpuid.FMA3))
}

func buildModel(cfg config.Config) (*model.RAT, error) {
	logCPU()
	return model.New(cfg)
}

func score(ctx context.Context, m *model.RAT, src batchio.Source, out io.Writer) error {
	var yTrue, yPred []float64
	fmt.Fprintln(out, "y_true,y_pred")
	for n := 0; ; n++ {
		b, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "reading batch %d", n)
		}
		res, err := m.Forward(b)
		if err != nil {
			return errors.Wrapf(err, "scoring batch %d", n)
		}
		for i := range res.YPred {
			fmt.Fprintf(out, "%g,%.6f\n", res.YTrue[i], res.YPred[i])
		}
		yTrue = append(yTrue, res.YTrue...)
		yPred = append(yPred, res.YPred...)
	}
	if len(yPred) == 0 {
		return errors.New("no batches to score")
	}

	report, err := eval.Evaluate(yTrue, yPred)
	if err != nil {
		return err
	}
	fields := []interface{}{
		"instances", len(yPred),
		"logloss", report.LogLoss,
		"score_mean", report.Scores.Mean,
		"score_p95", report.Scores.P95,
	}
	if report.HasAUC {
		fields = append(fields, "auc", report.AUC)
	}
	logger.Log.Info("evaluation", fields...)
	return nil
}

func runPredict(ctx context.Context, a args, c *predictCmd) error {
	if (c.Input == "") == (c.Flight == "") {
		return errors.New("predict needs exactly one of --input or --flight")
	}
	cfg, err := loadConfig(a, c.Config)
	if err != nil {
		return err
	}
	m, err := buildModel(cfg)
	if err != nil {
		return err
	}

	var src batchio.Source
	if c.Input != "" {
		src, err = batchio.OpenFile(c.Input, cfg.NumFields())
	} else {
		src, err = batchio.DialFlight(ctx, c.Flight, c.Ticket, cfg.NumFields())
	}
	if err != nil {
		return err
	}
	defer src.Close()
	return score(ctx, m, src, os.Stdout)
}

func runServe(ctx context.Context, a args, c *serveCmd) error {
	cfg, err := loadConfig(a, c.Config)
	if err != nil {
		return err
	}
	m, err := buildModel(cfg)
	if err != nil {
		return err
	}
	srv := server.New(m)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(c.Addr) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// demoFeatures is the toy schema used when demo runs without a config.
var demoFeatures = []config.FeatureSpec{
	{Name: "user_id", Type: config.FeatureCategorical, VocabSize: 100},
	{Name: "item_id", Type: config.FeatureCategorical, VocabSize: 500},
	{Name: "category", Type: config.FeatureCategorical, VocabSize: 20},
	{Name: "price", Type: config.FeatureNumeric},
}

func runDemo(ctx context.Context, a args, c *demoCmd) error {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = loadConfig(a, c.Config); err != nil {
			return err
		}
	} else {
		cfg.Features = demoFeatures
	}
	if c.Batch <= 0 || c.Batches <= 0 || c.K <= 0 {
		return errors.New("--batch, --batches and -k must be positive")
	}
	m, err := buildModel(cfg)
	if err != nil {
		return err
	}

	batches := make([]*model.Batch, c.Batches)
	for i := range batches {
		batches[i] = batchio.Synthetic(cfg.Features, c.Batch, c.K, cfg.Seed+uint64(i))
	}
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return errors.Wrapf(err, "creating %s", c.Output)
		}
		if err := batchio.WriteBatches(f, batches...); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		logger.Log.Info("batches written", "path", c.Output, "batches", len(batches))
	}
	return score(ctx, m, batchio.NewMemorySource(batches...), os.Stdout)
}

func runPublish(ctx context.Context, a args, c *publishCmd) error {
	cfg, err := loadConfig(a, c.Config)
	if err != nil {
		return err
	}
	f, err := os.Open(c.Input)
	if err != nil {
		return errors.Wrapf(err, "opening %s", c.Input)
	}
	batches, err := batchio.ReadBatches(f, cfg.NumFields())
	f.Close()
	if err != nil {
		return err
	}

	srv := batchio.NewBatchServer()
	srv.Publish(c.Ticket, batches...)
	if err := srv.Listen(pick(c.Addr, batchio.DefaultFlightAddr)); err != nil {
		return err
	}
	logger.Log.Info("flight server listening", "addr", srv.Addr(), "ticket", c.Ticket, "batches", len(batches))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		srv.Shutdown()
		return nil
	}
}
