package domain

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

// MockRunner answers scripts from ExitCodes; unknown scripts exit 0. A script
// listed in Block waits for ctx to be done.
type MockRunner struct {
	mu        sync.Mutex
	ExitCodes map[string]int
	Block     map[string]bool
	Err       error
	Scripts   []string
	Envs      []map[string]string
}

func (m *MockRunner) Run(ctx context.Context, cmd Command, out io.Writer) (int, error) {
	m.mu.Lock()
	m.Scripts = append(m.Scripts, cmd.Script)
	m.Envs = append(m.Envs, cmd.Env)
	block := m.Block[cmd.Script]
	code := m.ExitCodes[cmd.Script]
	m.mu.Unlock()

	_, _ = io.WriteString(out, cmd.Script+"\n")
	if m.Err != nil {
		return -1, m.Err
	}
	if block {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	return code, nil
}

func (m *MockRunner) Ran() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Scripts...)
}

type MockProvisioner struct {
	mu       sync.Mutex
	Tags     map[string]bool
	Acquired int
	Released int
}

func (p *MockProvisioner) Acquire(ctx context.Context, tag string) (Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Tags != nil && !p.Tags[tag] {
		return Environment{}, ErrEnvironmentUnavailable
	}
	p.Acquired++
	return Environment{ID: tag, Tag: tag, WorkDir: "/work/" + tag}, nil
}

func (p *MockProvisioner) Release(Environment) {
	p.mu.Lock()
	p.Released++
	p.mu.Unlock()
}

type MockService struct {
	launcher *MockLauncher
	name     string
}

func (s *MockService) Endpoint() string { return "http://127.0.0.1:8011/" + s.name }
func (s *MockService) LogPath() string  { return "/logs/" + s.name + ".log" }

func (s *MockService) Stop(context.Context) error {
	s.launcher.mu.Lock()
	s.launcher.Stopped++
	s.launcher.mu.Unlock()
	return nil
}

// MockLauncher never becomes ready when NeverReady is set; it then stops the
// process itself before returning.
type MockLauncher struct {
	mu         sync.Mutex
	NeverReady bool
	Started    int
	Stopped    int
}

func (l *MockLauncher) Start(ctx context.Context, spec ServiceSpec) (Service, error) {
	l.mu.Lock()
	l.Started++
	l.mu.Unlock()
	if l.NeverReady {
		<-ctx.Done()
		l.mu.Lock()
		l.Stopped++
		l.mu.Unlock()
		return nil, ctx.Err()
	}
	return &MockService{launcher: l, name: spec.Name}, nil
}

func (l *MockLauncher) Counts() (started, stopped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Started, l.Stopped
}

type MockStepCache struct {
	mu       sync.Mutex
	Hit      bool
	Restored []string
	Saved    []string
}

func (c *MockStepCache) Restore(_ context.Context, key string, _ []string, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Restored = append(c.Restored, key)
	return c.Hit, nil
}

func (c *MockStepCache) Save(_ context.Context, key string, _ []string, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Saved = append(c.Saved, key)
	return nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type MockLogSink struct{}

func (MockLogSink) Open(runID, job string, index int, step string) (io.WriteCloser, string, error) {
	return nopCloser{io.Discard}, "", nil
}

type MockStore struct {
	mu   sync.Mutex
	Runs map[string]Run
	Err  error
}

func (s *MockStore) Save(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.Runs == nil {
		s.Runs = make(map[string]Run)
	}
	s.Runs[run.ID] = run.Clone()
	return nil
}

func (s *MockStore) Get(_ context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.Runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return r.Clone(), nil
}

func (s *MockStore) List(context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.Runs))
	for _, r := range s.Runs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MockNotifier struct {
	mu       sync.Mutex
	Messages []string
	Err      error
}

func (n *MockNotifier) Notify(ctx context.Context, title, body, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, title+"|"+body+"|"+url)
	return n.Err
}

type MockCache struct {
	mu        sync.Mutex
	Snapshots []Snapshot
	Err       error
}

func (c *MockCache) Write(ctx context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Snapshots = append(c.Snapshots, s)
	return nil
}

type MockReporter struct {
	mu      sync.Mutex
	Reports []RunStatus
}

func (r *MockReporter) Report(_ context.Context, run Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reports = append(r.Reports, run.Status)
	return nil
}

type MockMetrics struct {
	mu         sync.Mutex
	Admitted   int
	Rejected   int
	Superseded int
	Finished   map[RunStatus]int
}

func (m *MockMetrics) EventAdmitted(EventType) { m.mu.Lock(); m.Admitted++; m.mu.Unlock() }
func (m *MockMetrics) EventRejected(EventType) { m.mu.Lock(); m.Rejected++; m.mu.Unlock() }
func (m *MockMetrics) RunSuperseded()          { m.mu.Lock(); m.Superseded++; m.mu.Unlock() }

func (m *MockMetrics) RunFinished(s RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Finished == nil {
		m.Finished = make(map[RunStatus]int)
	}
	m.Finished[s]++
}

func (m *MockMetrics) JobFinished(string, JobStatus, time.Duration) {}
