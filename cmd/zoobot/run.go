package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/zoobot/config"
	"github.com/brensch/zoobot/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play live against the game host",
	RunE:  runLive,
}

func runLive(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	out, closeOut, err := openLogOutput(useTUI)
	if err != nil {
		return err
	}
	defer closeOut()
	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFormat, out)
	if err != nil {
		return err
	}
	defer closeLog()

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	client := transport.NewClient(transport.DefaultConfig(cfg.EngineURL), svc.orch, log)

	g, gctx := errgroup.WithContext(ctx)
	svc.start(gctx, g)
	if cfg.EngineURL != "" {
		g.Go(func() error { return client.Run(gctx) })
	}
	if cfg.ListenAddr != "" {
		srv := transport.NewServer(svc.orch, log).NewHTTPServer(cfg.ListenAddr)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if useTUI {
		g.Go(func() error {
			defer cancel()
			return runDashboard(gctx, svc, client.GetStats)
		})
	}

	log.Info().Str("url", cfg.EngineURL).Str("listen", cfg.ListenAddr).Msg("running")
	err = g.Wait()
	svc.saveFinal(context.Background())
	log.Info().Msg(svc.orch.Stats().StatusLine())
	return err
}
