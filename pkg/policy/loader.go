package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces editor save bursts into one reload.
const reloadDebounce = 200 * time.Millisecond

// Loader reads policies from .rego files and JSON policy or bundle files and
// can watch them for changes.
type Loader struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cachedFile

	watcher *fsnotify.Watcher
}

type cachedFile struct {
	modTime  time.Time
	policies []Policy
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedFile),
	}
}

// LoadFromPaths loads every path in order. A path that is missing fails the
// whole load; inside a directory, unreadable policy files are skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		loaded, err := l.loadPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
		all = append(all, loaded...)
	}

	l.logger.Debug().Int("policies", len(all)).Strs("paths", paths).Msg("Loaded policies")
	return all, nil
}

func (l *Loader) loadPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return l.loadFromFile(ctx, path)
	}

	var policies []Policy
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isPolicyFile(p) {
			return err
		}
		loaded, err := l.loadFromFile(ctx, p)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", p).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, loaded...)
		return nil
	})
	return policies, err
}

// loadFromFile returns the policies in one file, reusing the cached parse
// while the file's modification time is unchanged.
func (l *Loader) loadFromFile(_ context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	cached, ok := l.cache[path]
	l.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return clonePolicies(cached.policies), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var policies []Policy
	switch filepath.Ext(path) {
	case ".rego":
		policies = []Policy{regoPolicy(path, data)}
	case ".json":
		if policies, err = l.jsonPolicies(path, data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}

	l.mu.Lock()
	l.cache[path] = cachedFile{modTime: info.ModTime(), policies: policies}
	l.mu.Unlock()

	return clonePolicies(policies), nil
}

// regoPolicy names the policy after its file. The header comment supplies the
// description and severity.
func regoPolicy(path string, data []byte) Policy {
	description, severity := parseHeader(string(data))
	now := time.Now()
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: description,
		Rego:        string(data),
		Severity:    severity,
		Enabled:     true,
		Tags:        []string{},
		Source:      path,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// jsonPolicies decodes a single Policy, or a PolicyBundle when the document
// has a "policies" key.
func (l *Loader) jsonPolicies(path string, data []byte) ([]Policy, error) {
	var doc struct {
		Policies json.RawMessage `json:"policies"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON policy file %s: %w", path, err)
	}

	var policies []Policy
	if doc.Policies != nil {
		var bundle PolicyBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("invalid policy bundle %s: %w", path, err)
		}
		l.logger.Debug().Str("bundle", bundle.Name).Str("version", bundle.Version).Msg("Read policy bundle")
		policies = bundle.Policies
	} else {
		var p Policy
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid JSON policy file %s: %w", path, err)
		}
		policies = []Policy{p}
	}

	now := time.Now()
	for i := range policies {
		p := &policies[i]
		if p.Name == "" {
			return nil, fmt.Errorf("policy %d in %s has no name", i, path)
		}
		if p.Severity == "" {
			p.Severity = SeverityWarning
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
		p.Source = path
	}
	return policies, nil
}

// parseHeader reads the comment block before the package clause. A
// "# severity: <level>" line sets the severity, every other comment line is
// joined into the description. Severity defaults to warning.
func parseHeader(content string) (string, Severity) {
	var lines []string
	severity := SeverityWarning

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		comment, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if line != "" && (len(lines) > 0 || strings.HasPrefix(line, "package")) {
				break
			}
			continue
		}

		comment = strings.TrimSpace(comment)
		if level, ok := strings.CutPrefix(comment, "severity:"); ok {
			severity = Severity(strings.TrimSpace(level))
		} else if comment != "" {
			lines = append(lines, comment)
		}
	}

	return strings.Join(lines, " "), severity
}

// Watch calls reload with the full policy set from paths after each burst of
// changes to a policy file. It runs until ctx is cancelled or StopWatching is
// called.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := addWatches(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Cannot watch policy path")
		}
	}

	go l.watchLoop(ctx, paths, reload)

	l.logger.Info().Strs("paths", paths).Msg("Watching policy paths")
	return nil
}

// addWatches watches path, or every directory below it.
func addWatches(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return w.Add(p)
	})
}

func (l *Loader) watchLoop(ctx context.Context, paths []string, reload func([]Policy) error) {
	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Stringer("op", event.Op).Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			if err := l.reload(ctx, paths, reload); err != nil {
				l.logger.Error().Err(err).Msg("Policy reload failed, keeping previous set")
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return err
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
	return nil
}

// StopWatching closes the watcher. It is safe to call when not watching.
func (l *Loader) StopWatching() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// ClearCache forgets every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]cachedFile)
	l.mu.Unlock()
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return (ext == ".rego" || ext == ".json") && filepath.Base(path) != ext
}

func clonePolicies(policies []Policy) []Policy {
	out := make([]Policy, len(policies))
	for i, p := range policies {
		p.Tags = append([]string(nil), p.Tags...)
		out[i] = p
	}
	return out
}
