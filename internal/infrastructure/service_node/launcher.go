// Package service_node starts the local test node that zk jobs talk to and
// waits until it answers JSON-RPC.
package service_node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/zap"
)

type Options struct {
	Command      string
	BinDir       string
	LogDir       string
	ReadyTimeout time.Duration
	Grace        time.Duration
}

// Launcher is a domain.ServiceLauncher for anvil-zksync style nodes.
type Launcher struct {
	log  *zap.Logger
	opt  Options
	hc   *http.Client
	addr func(port int) string
}

func New(l *zap.Logger, opt Options) *Launcher {
	if opt.Command == "" {
		opt.Command = "anvil-zksync"
	}
	if opt.ReadyTimeout <= 0 {
		opt.ReadyTimeout = time.Minute
	}
	if opt.Grace <= 0 {
		opt.Grace = 10 * time.Second
	}
	if opt.LogDir == "" {
		opt.LogDir = os.TempDir()
	}
	return &Launcher{
		log:  l,
		opt:  opt,
		hc:   &http.Client{Timeout: 2 * time.Second},
		addr: func(port int) string { return "http://127.0.0.1:" + strconv.Itoa(port) },
	}
}

func (l *Launcher) Start(ctx context.Context, spec domain.ServiceSpec) (domain.Service, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.opt.LogDir, 0o755); err != nil {
		return nil, err
	}
	logPath := filepath.Join(l.opt.LogDir, fmt.Sprintf("%s-%d.log", spec.Name, port))

	console, err := os.Create(logPath + ".console")
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(l.binary(spec), args(spec, port, logPath)...)
	cmd.Stdout = console
	cmd.Stderr = console
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		_ = console.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	s := &node{
		name:     spec.Name,
		endpoint: l.addr(port),
		logPath:  logPath,
		cmd:      cmd,
		grace:    l.opt.Grace,
		exited:   make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		_ = console.Close()
		close(s.exited)
	}()

	log := l.log.With(zap.String("service", spec.Name), zap.String("endpoint", s.endpoint))
	log.Info("service starting", zap.Int("pid", cmd.Process.Pid), zap.String("mode", spec.Mode))

	if err := l.waitReady(ctx, s); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*l.opt.Grace)
		defer cancel()
		_ = s.Stop(stopCtx)
		log.Warn("service not ready", zap.Error(err))
		return nil, fmt.Errorf("service %s: %w", spec.Name, err)
	}

	log.Info("service ready")
	return s, nil
}

func (l *Launcher) binary(spec domain.ServiceSpec) string {
	if l.opt.BinDir != "" {
		p := filepath.Join(l.opt.BinDir, spec.ReleaseTag, spec.Target, l.opt.Command)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return l.opt.Command
}

func args(spec domain.ServiceSpec, port int, logPath string) []string {
	out := []string{"--port", strconv.Itoa(port), "--log-file-path", logPath}
	if spec.LogLevel != "" {
		out = append(out, "--log", spec.LogLevel)
	}
	if spec.Mode != "" {
		out = append(out, spec.Mode)
	}
	if spec.Mode == "fork" && spec.Network != "" {
		out = append(out, "--network", spec.Network)
	}
	return out
}

func (l *Launcher) waitReady(ctx context.Context, s *node) error {
	op := func() error {
		select {
		case <-s.exited:
			return backoff.Permanent(fmt.Errorf("exited before ready: %v", s.waitErr))
		default:
		}
		return l.probe(ctx, s.endpoint)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = l.opt.ReadyTimeout

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

type rpcResponse struct {
	Result string          `json:"result"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (l *Launcher) probe(ctx context.Context, endpoint string) error {
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe: %s", resp.Status)
	}
	var r rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return err
	}
	if r.Result == "" {
		return errors.New("probe: empty chain id")
	}
	return nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

type node struct {
	name     string
	endpoint string
	logPath  string
	cmd      *exec.Cmd
	grace    time.Duration

	exited  chan struct{}
	waitErr error

	once    sync.Once
	stopErr error
}

func (n *node) Endpoint() string { return n.endpoint }
func (n *node) LogPath() string  { return n.logPath }

// Stop terminates the process group, escalating to SIGKILL after the grace
// period or when ctx ends. Later calls return the first result.
func (n *node) Stop(ctx context.Context) error {
	n.once.Do(func() {
		select {
		case <-n.exited:
			return
		default:
		}

		_ = terminateGroup(n.cmd)
		t := time.NewTimer(n.grace)
		defer t.Stop()

		select {
		case <-n.exited:
			return
		case <-t.C:
		case <-ctx.Done():
		}
		if err := killGroup(n.cmd); err != nil {
			n.stopErr = err
			return
		}
		<-n.exited
	})
	return n.stopErr
}
