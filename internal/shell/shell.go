// Package shell picks the command interpreter that runs caller-supplied
// command lines: the first executable preferred candidate, else the
// platform fallback. Resolution never fails.
package shell

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/standardbeagle/climcp/internal/logging"
	"github.com/standardbeagle/climcp/pkg/events"
)

// Shell is a resolved interpreter. It is never mutated after resolution.
type Shell struct {
	Name      string
	Path      string
	Args      []string
	Preferred bool
}

// Identifier is the value reported as the result's resolved-interpreter.
func (s Shell) Identifier() string {
	if s.Name != "" {
		return s.Name
	}
	return strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
}

// Mode reports "preferred" or "fallback".
func (s Shell) Mode() string {
	if s.Preferred {
		return "preferred"
	}
	return "fallback"
}

// Argv returns the full argument vector running commandLine. The command
// line is passed through untouched as the last argument.
func (s Shell) Argv(commandLine string) []string {
	argv := make([]string, 0, len(s.Args)+2)
	argv = append(argv, s.Path)
	argv = append(argv, s.Args...)
	return append(argv, commandLine)
}

// Options configures a Resolver. Zero fields keep the platform defaults
// when built through DefaultOptions.
type Options struct {
	PreferredName  string
	PreferredPaths []string
	PreferredArgs  []string
	Fallback       Shell

	// CacheTTL bounds how long a resolution is reused. Zero probes the
	// filesystem on every call.
	CacheTTL time.Duration

	Bus    *events.EventBus
	Logger *zap.Logger
}

// Resolver resolves and caches the interpreter choice.
type Resolver struct {
	opts Options

	mu         sync.Mutex
	cached     *Shell
	resolvedAt time.Time

	now          func() time.Time
	isExecutable func(path string) bool

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}

	logger *zap.Logger
}

// NewResolver creates a resolver. The fallback is marked non-preferred
// whatever the caller set.
func NewResolver(opts Options) *Resolver {
	opts.Fallback.Preferred = false
	opts.PreferredPaths = append([]string(nil), opts.PreferredPaths...)
	return &Resolver{
		opts:         opts,
		now:          time.Now,
		isExecutable: isExecutable,
		logger:       logging.OrNop(opts.Logger),
	}
}

// Candidates returns the ordered preferred interpreter locations.
func (r *Resolver) Candidates() []string {
	return append([]string(nil), r.opts.PreferredPaths...)
}

// Resolve returns the interpreter to use now.
func (r *Resolver) Resolve() Shell {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.opts.CacheTTL > 0 && r.now().Sub(r.resolvedAt) < r.opts.CacheTTL {
		return r.cached.clone()
	}

	sh := r.probe()
	r.cached = &sh
	r.resolvedAt = r.now()

	r.logger.Debug("resolved interpreter",
		zap.String("name", sh.Identifier()),
		zap.String("path", sh.Path),
		zap.String("mode", sh.Mode()))
	r.opts.Bus.Publish(events.Event{
		Type: events.ShellResolved,
		Data: map[string]interface{}{
			"name":      sh.Identifier(),
			"path":      sh.Path,
			"preferred": sh.Preferred,
		},
	})

	return sh.clone()
}

// Invalidate drops the cached resolution so the next Resolve probes again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func (r *Resolver) probe() Shell {
	for _, candidate := range r.opts.PreferredPaths {
		if r.isExecutable(candidate) {
			return Shell{
				Name:      r.opts.PreferredName,
				Path:      candidate,
				Args:      append([]string(nil), r.opts.PreferredArgs...),
				Preferred: true,
			}
		}
	}
	return r.opts.Fallback.clone()
}

func (s Shell) clone() Shell {
	s.Args = append([]string(nil), s.Args...)
	return s
}
