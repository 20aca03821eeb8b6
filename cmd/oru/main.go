// Command oru runs one overlay node. It bootstraps through the compiled-in
// introducer and listens on the TCP port given as its only argument.
//
//	oru [--log-level=debug] [--metrics-addr=127.0.0.1:9100] <port>
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Great1ng/oru"
	prommetrics "github.com/Great1ng/oru/prometheus"
)

// options are the command-line flags.
type options struct {
	LogLevel    string `long:"log-level" env:"ORU_LOG_LEVEL" description:"Log level (debug, info, warn, error)." default:"info"`
	MetricsAddr string `long:"metrics-addr" env:"ORU_METRICS_ADDR" description:"Address of the ops HTTP server serving /metrics, /health, /live and /debug/state. Empty disables it."`
	NATPortMap  bool   `long:"nat-portmap" description:"Try to open the listen port on the gateway with UPnP or NAT-PMP."`

	Args struct {
		Port uint16 `positional-arg-name:"port" description:"Local TCP port to listen on."`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		// go-flags already printed the error or help.
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	fx.New(
		fx.Supply(opts),
		fx.Provide(newLogger, newNode),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx").WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))}
		}),
		fx.Invoke(run),
	).Run()
}

func newLogger(opts options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func newNode(lc fx.Lifecycle, opts options, logger *zap.Logger) (*oru.Node, error) {
	cfg := oru.NewConfig(
		oru.WithLogger(oru.NewZapLogger(logger.Named("node"))),
		oru.WithMetrics(prommetrics.NewMetrics("")),
		oru.WithNATPortMap(opts.NATPortMap),
	)

	node, err := oru.New(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(node.Close))

	logger.Info("node created", zap.Stringer("id", node.ID()))
	return node, nil
}

// run starts the overlay next to the optional ops server. A fatal error
// shuts the application down with exit code 1; a normal end of the event
// stream shuts it down cleanly.
func run(lc fx.Lifecycle, sd fx.Shutdowner, opts options, node *oru.Node, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			g.Go(func() error {
				defer cancel()
				return runOverlay(gctx, node, opts.Args.Port)
			})

			if opts.MetricsAddr != "" {
				srv := newOpsServer(opts.MetricsAddr, node)
				g.Go(func() error {
					logger.Info("ops server listening", zap.String("addr", opts.MetricsAddr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
					defer stop()
					return srv.Shutdown(shutdownCtx)
				})
			}

			go func() {
				defer close(done)
				err := g.Wait()
				if oru.IsFatal(err) {
					logger.Error("node failed", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
					return
				}
				logger.Info("node finished")
				_ = sd.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func runOverlay(ctx context.Context, node *oru.Node, port uint16) error {
	conn, err := node.Connect(ctx, oru.DefaultIntroducer, port)
	if err != nil {
		return err
	}
	return conn.Handle(ctx)
}

func newOpsServer(addr string, node *oru.Node) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", oru.HealthHandler(node))
	mux.Handle("/live", oru.LivenessHandler(node))
	mux.Handle("/debug/state", oru.DebugHandler(node))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
