// Command batchz-bench drives a Coalescer with concurrent callers against a
// simulated tensor model and reports how requests were batched.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	batchz "github.com/zoobzio/batchz"
)

// model sums each row's features after a fixed per-call delay, so one big
// call is much cheaper than many small ones.
type model struct {
	latency time.Duration
	calls   atomic.Int64
}

func (m *model) Execute(ctx context.Context, in batchz.Tensors) (batchz.Tensors, error) {
	m.calls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.latency):
	}

	x, ok := in["features"]
	if !ok {
		return nil, errors.New("missing features tensor")
	}
	rows, width := x.Rows(), x.Shape[1]
	scores := make([]float32, rows)
	for r := 0; r < rows; r++ {
		for _, v := range x.Data[r*width : (r+1)*width] {
			scores[r] += v
		}
	}
	out, err := batchz.NewTensor([]int{rows, 1}, scores)
	if err != nil {
		return nil, err
	}
	return batchz.Tensors{"scores": out}, nil
}

func main() {
	var (
		configPath     string
		cfg            batchz.Config
		callers        = 32
		requests       = 100
		rowsPerRequest = 1
		features       = 16
		requestRate    float64
		modelLatency   = 5 * time.Millisecond
		reportInterval = time.Second
		metricsAddr    string
	)

	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.CommandLine.StringVar(&configPath, "config", configPath, "YAML file with coalescer settings; flags given explicitly override it")
	pflag.CommandLine.StringVar(&cfg.Name, "name", "bench", "coalescer name used in logs and metric labels")
	pflag.CommandLine.IntVar(&cfg.BatchLimit, "batch-limit", 32, "maximum requests per batch")
	pflag.CommandLine.IntVar(&cfg.QueueLimit, "queue-limit", batchz.DefaultQueueLimit, "maximum closed batches waiting for a worker")
	pflag.CommandLine.IntVar(&cfg.Workers, "workers", 2, "number of batch workers")
	pflag.CommandLine.DurationVar(&cfg.MaxLatency, "max-latency", 2*time.Millisecond, "how long an open batch collects requests before an idle worker may take it")
	pflag.CommandLine.IntVar(&callers, "callers", callers, "number of concurrent callers")
	pflag.CommandLine.IntVar(&requests, "requests", requests, "requests sent by each caller")
	pflag.CommandLine.IntVar(&rowsPerRequest, "rows", rowsPerRequest, "rows in each request")
	pflag.CommandLine.IntVar(&features, "features", features, "features per row")
	pflag.CommandLine.Float64Var(&requestRate, "rate", requestRate, "overall requests per second across all callers, 0 for unlimited")
	pflag.CommandLine.DurationVar(&modelLatency, "model-latency", modelLatency, "simulated fixed cost of one model call")
	pflag.CommandLine.DurationVar(&reportInterval, "report-interval", reportInterval, "interval between throughput reports, 0 to disable")
	pflag.CommandLine.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	logger := klog.FromContext(ctx)

	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		logger.V(1).Info("Flag", "name", f.Name, "value", f.Value.String())
	})

	if configPath != "" {
		fileCfg, err := batchz.LoadConfig(configPath)
		if err != nil {
			logger.Error(err, "Failed to load config", "path", configPath)
			klog.FlushAndExit(klog.ExitFlushTimeout, 1)
		}
		cfg = mergeFlags(fileCfg, cfg)
	}

	err := run(ctx, cfg, benchOptions{
		callers:        callers,
		requests:       requests,
		rows:           rowsPerRequest,
		features:       features,
		rate:           requestRate,
		modelLatency:   modelLatency,
		reportInterval: reportInterval,
		metricsAddr:    metricsAddr,
	})
	if err != nil {
		logger.Error(err, "Benchmark failed")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
	klog.Flush()
}

// mergeFlags overlays the flags the user set explicitly onto the file config.
func mergeFlags(fileCfg, flagCfg batchz.Config) batchz.Config {
	flags := pflag.CommandLine
	if flags.Changed("name") {
		fileCfg.Name = flagCfg.Name
	}
	if flags.Changed("batch-limit") {
		fileCfg.BatchLimit = flagCfg.BatchLimit
	}
	if flags.Changed("queue-limit") {
		fileCfg.QueueLimit = flagCfg.QueueLimit
	}
	if flags.Changed("workers") {
		fileCfg.Workers = flagCfg.Workers
	}
	if flags.Changed("max-latency") {
		fileCfg.MaxLatency = flagCfg.MaxLatency
	}
	return fileCfg
}

type benchOptions struct {
	callers        int
	requests       int
	rows           int
	features       int
	rate           float64
	modelLatency   time.Duration
	reportInterval time.Duration
	metricsAddr    string
}

func run(ctx context.Context, cfg batchz.Config, opts benchOptions) error {
	logger := klog.FromContext(ctx)
	reg := prometheus.NewRegistry()

	m := &model{latency: opts.modelLatency}
	c := batchz.NewCoalescer[batchz.Tensors, batchz.Tensors](m, batchz.TensorCodec{}).
		WithConfig(cfg).
		WithMetrics(reg).
		WithStatsReporter(opts.reportInterval, func(r batchz.StatsReport) {
			logger.Info("Throughput",
				"requestsPerSec", fmt.Sprintf("%.1f", r.Rate),
				"batchesPerSec", fmt.Sprintf("%.1f", r.BatchRate),
				"avgBatch", fmt.Sprintf("%.2f", r.Stats.AverageBatchSize()),
				"queueDepth", r.Stats.QueueDepth)
		})

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start coalescer: %w", err)
	}

	if opts.metricsAddr != "" {
		server := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics", "addr", opts.metricsAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(err, "Metrics server failed")
			}
		}()
		defer func() { _ = server.Close() }()
	}

	limit := rate.Inf
	if opts.rate > 0 {
		limit = rate.Limit(opts.rate)
	}
	limiter := rate.NewLimiter(limit, opts.callers)

	var rejected, failed atomic.Int64
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for caller := range opts.callers {
		g.Go(func() error {
			input, err := request(caller, opts.rows, opts.features)
			if err != nil {
				return err
			}
			for range opts.requests {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				out, err := c.Do(gctx, input)
				switch {
				case errors.Is(err, batchz.ErrQueueFull):
					rejected.Add(1)
					continue
				case errors.Is(err, context.Canceled):
					return err
				case err != nil:
					failed.Add(1)
					logger.V(2).Info("Request failed", "caller", caller, "err", err)
					continue
				}
				if got := out["scores"].Rows(); got != opts.rows {
					return fmt.Errorf("caller %d: got %d score rows, want %d", caller, got, opts.rows)
				}
			}
			return nil
		})
	}
	runErr := g.Wait()
	elapsed := time.Since(started)

	if err := c.Stop(10 * time.Second); err != nil {
		logger.Error(err, "Coalescer did not stop cleanly")
	}

	s := c.Stats()
	logger.Info("Benchmark finished",
		"elapsed", elapsed.Round(time.Millisecond),
		"submitted", s.Submitted,
		"rejected", rejected.Load(),
		"failed", failed.Load(),
		"batches", s.Batches,
		"modelCalls", m.calls.Load(),
		"fastPath", s.FastPath,
		"avgBatch", fmt.Sprintf("%.2f", s.AverageBatchSize()),
		"requestsPerSec", fmt.Sprintf("%.1f", float64(s.Submitted)/elapsed.Seconds()))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// request builds one caller's input: rows x features, filled with the
// caller index so outputs are easy to check by eye.
func request(caller, rows, features int) (batchz.Tensors, error) {
	data := make([]float32, rows*features)
	for i := range data {
		data[i] = float32(caller)
	}
	x, err := batchz.NewTensor([]int{rows, features}, data)
	if err != nil {
		return nil, err
	}
	return batchz.Tensors{"features": x}, nil
}
