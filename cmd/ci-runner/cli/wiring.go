package cli

import (
	"fmt"
	"path/filepath"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/cache_fs"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/exec_local"
	"github.com/davarch/ci-runner/internal/infrastructure/gitlab_http"
	"github.com/davarch/ci-runner/internal/infrastructure/logstore_fs"
	"github.com/davarch/ci-runner/internal/infrastructure/metrics"
	"github.com/davarch/ci-runner/internal/infrastructure/notify_libnotify"
	"github.com/davarch/ci-runner/internal/infrastructure/pipelinefile"
	"github.com/davarch/ci-runner/internal/infrastructure/provision_local"
	"github.com/davarch/ci-runner/internal/infrastructure/service_node"
	"github.com/davarch/ci-runner/internal/infrastructure/stepcache_fs"
	"github.com/davarch/ci-runner/internal/infrastructure/store_fs"
	"go.uber.org/zap"
)

type app struct {
	cfg      config.Config
	pipeline pipelinefile.Pipeline
	orch     *application.Orchestrator
	metrics  *metrics.Prometheus
}

// loadPipeline returns the pipeline and its enabled jobs. Every enabled job
// must run on one of tags.
func loadPipeline(cfg config.Config, tags []string) (pipelinefile.Pipeline, []domain.Job, error) {
	p, err := pipelinefile.Load(cfg.Pipeline)
	if err != nil {
		return pipelinefile.Pipeline{}, nil, err
	}
	jobs := p.Enabled(cfg.JobDisabled)
	if err := pipelinefile.CheckEnvironments(jobs, tags); err != nil {
		return pipelinefile.Pipeline{}, nil, fmt.Errorf("pipeline needs unconfigured environments: %w", err)
	}
	return p, jobs, nil
}

// build assembles the orchestrator and its adapters from cfg.
func build(cfg config.Config, log *zap.Logger) (*app, error) {
	p, jobs, err := loadPipeline(cfg, cfg.EnvironmentTags())
	if err != nil {
		return nil, err
	}

	workflow := cfg.Workflow
	if p.Name != "" && cfg.Workflow == "ci" {
		workflow = p.Name
	}

	events := make([]domain.EventType, 0, len(cfg.Trigger.Events))
	for _, e := range cfg.Trigger.Events {
		events = append(events, domain.EventType(e))
	}

	classes := make([]provision_local.Class, len(cfg.Execution.Environments))
	for i, e := range cfg.Execution.Environments {
		classes[i] = provision_local.Class{Tag: e.Tag, Slots: e.Slots, WorkDir: e.WorkDir}
	}

	grace := cfg.Execution.CancelGrace
	exec := application.NewStepExecutor(log.Named("executor"), logstore_fs.New(filepath.Join(cfg.Store.Dir, "logs")), grace)
	application.RegisterBuiltins(exec,
		exec_local.New(cfg.Execution.Shell, grace),
		stepcache_fs.New(filepath.Join(cfg.Store.Dir, "cache")),
		service_node.New(log.Named("service"), service_node.Options{
			Command:      cfg.Service.Command,
			BinDir:       cfg.Service.BinDir,
			LogDir:       filepath.Join(cfg.Store.Dir, "services"),
			ReadyTimeout: cfg.Service.ReadyTimeout,
			Grace:        grace,
		}),
	)

	repo, err := filepath.Abs(cfg.Repository)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	runs := store_fs.New(filepath.Join(cfg.Store.Dir, "runs"))
	deps := application.Deps{
		Trigger: application.NewTriggerEvaluator(workflow, cfg.Trigger.Branches, events, cfg.Trigger.PauseFile),
		Graph: application.NewJobGraph(log.Named("graph"),
			provision_local.New(log.Named("provision"), classes), exec, cfg.Execution.ProvisionWait, repo),
		Store:   runs,
		Lock:    runs,
		Cache:   cache_fs.New(cfg.Status.Path),
		Metrics: m,
	}
	if cfg.Status.Notify {
		deps.Notifier = notify_libnotify.NewSoft(notify_libnotify.Options{})
	}
	if cfg.ReportsToGitLab() {
		deps.Reporter = gitlab_http.New(cfg.GitLab.BaseURL, cfg.GitLab.Token, cfg.GitLab.ProjectID, cfg.GitLab.Timeout).
			WithTargetURL(cfg.GitLab.TargetURL)
	}

	return &app{
		cfg:      cfg,
		pipeline: p,
		orch:     application.NewOrchestrator(log.Named("orchestrator"), deps, jobs),
		metrics:  m,
	}, nil
}
