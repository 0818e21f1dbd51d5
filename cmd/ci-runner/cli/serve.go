package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/httpapi"
	"github.com/davarch/ci-runner/internal/infrastructure/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept events over HTTP and run pipelines until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		log := logging.New(cfg.Log.Level)
		defer func() { _ = log.Sync() }()

		a, err := build(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := a.orch.Restore(ctx); errors.Is(err, domain.ErrStoreLocked) {
			return fmt.Errorf("%s: %w", a.cfg.Store.Dir, err)
		} else if err != nil {
			log.Warn("run history not restored", zap.Error(err))
		}
		defer func() { _ = a.orch.Close() }()
		watchAndReload(cfgPath, cfg, log, a.orch)

		api := httpapi.New(ctx, log.Named("http"), a.orch, a.metrics.Handler())
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		log.Info("start",
			zap.String("version", version),
			zap.String("addr", cfg.Server.Addr),
			zap.String("pipeline", cfg.Pipeline),
			zap.Int("jobs", len(a.orch.Jobs())),
			zap.Strings("branches", cfg.Trigger.Branches),
			zap.String("store", cfg.Store.Dir),
			zap.String("pause_file", cfg.Trigger.PauseFile),
		)

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		shutdown, done := context.WithTimeout(context.Background(), 2*cfg.Execution.CancelGrace)
		defer done()
		_ = srv.Shutdown(shutdown)

		log.Info("waiting for runs to stop")
		return a.orch.Close()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// watchAndReload reloads the job templates when the config or pipeline file
// changes. Runs already admitted keep the templates they started with.
func watchAndReload(cfgPath string, cfg config.Config, log *zap.Logger, orch *application.Orchestrator) {
	watched := map[string]bool{}
	for _, p := range []string{cfgPath, cfg.Pipeline} {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			watched[abs] = true
		}
	}
	if len(watched) == 0 {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	fire := func() {
		next, err := config.Load(cfgPath)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		_, jobs, err := loadPipeline(next, cfg.EnvironmentTags())
		if err != nil {
			log.Warn("pipeline reload failed", zap.Error(err))
			return
		}
		orch.UpdateJobs(jobs)
	}

	dirs := map[string]bool{}
	for p := range watched {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				abs, err := filepath.Abs(ev.Name)
				if err != nil || !watched[abs] {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(300*time.Millisecond, fire)
				} else {
					timer.Reset(300 * time.Millisecond)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}
