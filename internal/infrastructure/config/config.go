package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

type Environment struct {
	Tag     string `yaml:"tag"`
	Slots   int    `yaml:"slots"`
	WorkDir string `yaml:"workdir,omitempty"`
}

type Config struct {
	Workflow     string   `yaml:"workflow"`
	Pipeline     string   `yaml:"pipeline,omitempty"`
	Repository   string   `yaml:"repository"`
	DisabledJobs []string `yaml:"disabled_jobs,omitempty"`

	Trigger struct {
		Branches  []string `yaml:"branches"`
		Events    []string `yaml:"events"`
		PauseFile string   `yaml:"pause_file"`
	} `yaml:"trigger"`

	Execution struct {
		Environments  []Environment `yaml:"environments"`
		ProvisionWait time.Duration `yaml:"provision_wait"`
		CancelGrace   time.Duration `yaml:"cancel_grace"`
		Shell         string        `yaml:"shell"`
	} `yaml:"execution"`

	Service struct {
		Command      string        `yaml:"command"`
		BinDir       string        `yaml:"bin_dir,omitempty"`
		ReadyTimeout time.Duration `yaml:"ready_timeout"`
	} `yaml:"service"`

	Store struct {
		Dir string `yaml:"dir"`
	} `yaml:"store"`

	Status struct {
		Path   string `yaml:"path"`
		Notify bool   `yaml:"notify"`
	} `yaml:"status"`

	GitLab struct {
		BaseURL   string        `yaml:"base_url"`
		Token     string        `yaml:"token,omitempty"`
		ProjectID int64         `yaml:"project_id,omitempty"`
		TargetURL string        `yaml:"target_url,omitempty"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"gitlab"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// ReportsToGitLab reports whether commit statuses should be published.
func (c Config) ReportsToGitLab() bool {
	return c.GitLab.Token != "" && c.GitLab.ProjectID > 0
}

// EnvironmentTags lists the runs-on tags the configured environments provide.
func (c Config) EnvironmentTags() []string {
	tags := make([]string, len(c.Execution.Environments))
	for i, e := range c.Execution.Environments {
		tags[i] = e.Tag
	}
	return tags
}

func (c Config) JobDisabled(name string) bool {
	for _, d := range c.DisabledJobs {
		if d == name {
			return true
		}
	}
	return false
}

func Load(path string) (Config, error) {
	var c Config

	c.Workflow = "ci"
	c.Repository = "."
	c.Trigger.Branches = []string{"main"}
	c.Trigger.Events = []string{"push", "pull_request"}
	c.Execution.ProvisionWait = 2 * time.Minute
	c.Execution.CancelGrace = 10 * time.Second
	c.Execution.Shell = "bash"
	c.Service.Command = "anvil-zksync"
	c.Service.ReadyTimeout = time.Minute
	c.Store.Dir = expandHome("~/.local/state/ci-runner")
	c.Status.Path = expandHome("~/.cache/ci_run_status.json")
	c.GitLab.BaseURL = "https://gitlab.com"
	c.GitLab.Timeout = 10 * time.Second
	c.Server.Addr = ":8080"
	c.Log.Level = "info"

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, err
		}
	}

	if v := os.Getenv("CI_WORKFLOW"); v != "" {
		c.Workflow = v
	}

	if v := os.Getenv("CI_PIPELINE"); v != "" {
		c.Pipeline = v
	}

	if v := os.Getenv("CI_REPOSITORY"); v != "" {
		c.Repository = v
	}

	if v := os.Getenv("CI_BRANCHES"); v != "" {
		c.Trigger.Branches = splitComma(v)
	}

	if v := os.Getenv("CI_STORE_DIR"); v != "" {
		c.Store.Dir = v
	}

	if v := os.Getenv("CI_CANCEL_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Execution.CancelGrace = d
		}
	}

	if v := os.Getenv("CI_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}

	if v := os.Getenv("CI_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if v := os.Getenv("GITLAB_BASE_URL"); v != "" {
		c.GitLab.BaseURL = v
	}

	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.GitLab.Token = v
	}

	if v := os.Getenv("GITLAB_PROJECT_ID"); v != "" {
		if pid, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.GitLab.ProjectID = pid
		}
	}

	c.Store.Dir = expandHome(c.Store.Dir)
	c.Status.Path = expandHome(c.Status.Path)
	c.Trigger.PauseFile = expandHome(c.Trigger.PauseFile)
	c.Service.BinDir = expandHome(c.Service.BinDir)

	if c.Execution.ProvisionWait <= 0 {
		c.Execution.ProvisionWait = 2 * time.Minute
	}

	if c.Execution.CancelGrace <= 0 {
		c.Execution.CancelGrace = 10 * time.Second
	}

	if c.Service.ReadyTimeout <= 0 {
		c.Service.ReadyTimeout = time.Minute
	}

	if c.GitLab.Timeout <= 0 {
		c.GitLab.Timeout = 10 * time.Second
	}

	if len(c.Execution.Environments) == 0 {
		c.Execution.Environments = []Environment{
			{Tag: "ubuntu-latest", Slots: runtime.NumCPU()},
			{Tag: "ubuntu-22.04-github-hosted-16core", Slots: max(1, runtime.NumCPU()/4)},
		}
	}

	if strings.TrimSpace(c.Workflow) == "" {
		return c, errors.New("workflow name is required")
	}

	if len(c.Trigger.Branches) == 0 {
		return c, errors.New("no branches configured (YAML or ENV)")
	}

	for _, e := range c.Execution.Environments {
		if e.Tag == "" {
			return c, errors.New("environment without tag")
		}
	}

	return c, nil
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func splitComma(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
