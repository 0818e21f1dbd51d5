// Package provision_local hands out scratch workspaces on the local host,
// limited per runs-on tag.
package provision_local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/zap"
)

type Class struct {
	Tag     string
	Slots   int
	WorkDir string
}

type slotPool struct {
	slots chan struct{}
	root  string
}

// Pool is a domain.Provisioner backed by temporary directories.
type Pool struct {
	log   *zap.Logger
	pools map[string]*slotPool

	mu    sync.Mutex
	inUse map[string]string
}

func New(l *zap.Logger, classes []Class) *Pool {
	p := &Pool{log: l, pools: make(map[string]*slotPool, len(classes)), inUse: map[string]string{}}
	for _, c := range classes {
		n := c.Slots
		if n <= 0 {
			n = 1
		}
		root := c.WorkDir
		if root == "" {
			root = os.TempDir()
		}
		p.pools[c.Tag] = &slotPool{slots: make(chan struct{}, n), root: root}
	}
	return p
}

// Acquire waits for a free slot of the given tag until ctx ends. Unknown tags
// fail immediately.
func (p *Pool) Acquire(ctx context.Context, tag string) (domain.Environment, error) {
	sp, ok := p.pools[tag]
	if !ok {
		return domain.Environment{}, fmt.Errorf("%w: no environment class %q", domain.ErrEnvironmentUnavailable, tag)
	}

	select {
	case sp.slots <- struct{}{}:
	case <-ctx.Done():
		return domain.Environment{}, fmt.Errorf("%w: %s: %v", domain.ErrEnvironmentUnavailable, tag, context.Cause(ctx))
	}

	if err := os.MkdirAll(sp.root, 0o755); err != nil {
		<-sp.slots
		return domain.Environment{}, err
	}
	dir, err := os.MkdirTemp(sp.root, "ci-"+sanitize(tag)+"-")
	if err != nil {
		<-sp.slots
		return domain.Environment{}, err
	}

	env := domain.Environment{ID: filepath.Base(dir), Tag: tag, WorkDir: dir}
	p.mu.Lock()
	p.inUse[env.ID] = tag
	p.mu.Unlock()

	p.log.Debug("environment acquired", zap.String("tag", tag), zap.String("workdir", dir))
	return env, nil
}

func (p *Pool) Release(env domain.Environment) {
	p.mu.Lock()
	tag, ok := p.inUse[env.ID]
	delete(p.inUse, env.ID)
	p.mu.Unlock()
	if !ok {
		return
	}

	if err := os.RemoveAll(env.WorkDir); err != nil {
		p.log.Warn("workspace not removed", zap.String("workdir", env.WorkDir), zap.Error(err))
	}
	<-p.pools[tag].slots
	p.log.Debug("environment released", zap.String("tag", tag), zap.String("id", env.ID))
}

// InUse returns the number of held environments.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
