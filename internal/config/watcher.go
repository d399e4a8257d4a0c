package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcphub/pkg/logging"
)

// ChangeOperation classifies a configuration change.
type ChangeOperation string

const (
	OperationCreate ChangeOperation = "create"
	OperationUpdate ChangeOperation = "update"
	OperationDelete ChangeOperation = "delete"
)

// ChangeEvent describes one debounced configuration change.
type ChangeEvent struct {
	// Category is the entity subdirectory (upstreams, groups) or "config"
	// for the top-level config.yaml.
	Category  string
	Name      string
	Operation ChangeOperation
	FilePath  string
	Timestamp time.Time
}

// Watcher watches the configuration directory for changes to config.yaml and
// the upstreams/ and groups/ entity files, emitting debounced change events.
type Watcher struct {
	mu sync.Mutex

	configPath       string
	watcher          *fsnotify.Watcher
	debounceInterval time.Duration
	pendingEvents    map[string]*pendingChange
	stopCh           chan struct{}
	running          bool
}

type pendingChange struct {
	event ChangeEvent
	timer *time.Timer
}

// NewWatcher creates a configuration watcher rooted at configPath.
func NewWatcher(configPath string, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{
		configPath:       configPath,
		debounceInterval: debounceInterval,
		pendingEvents:    make(map[string]*pendingChange),
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching and delivers events on changes until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	for _, dir := range []string{"", UpstreamsDir, GroupsDir} {
		watchPath := filepath.Join(w.configPath, dir)
		if err := os.MkdirAll(watchPath, 0755); err != nil {
			logging.Warn("ConfigWatcher", "Cannot create watch directory %s: %v", watchPath, err)
			continue
		}
		if err := watcher.Add(watchPath); err != nil {
			logging.Warn("ConfigWatcher", "Cannot watch %s: %v", watchPath, err)
		}
	}

	go w.processEvents(ctx, changes)

	logging.Info("ConfigWatcher", "Watching %s for configuration changes", w.configPath)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, changes chan<- ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			w.cleanupPending()
			return
		case <-w.stopCh:
			w.cleanupPending()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event, changes)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("ConfigWatcher", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event, changes chan<- ChangeEvent) {
	if !isYAMLFile(event.Name) {
		return
	}
	category, name := w.classify(event.Name)
	if category == "" {
		return
	}

	var op ChangeOperation
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		op = OperationCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		op = OperationUpdate
	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		op = OperationDelete
	default:
		return
	}

	w.debounce(ChangeEvent{
		Category:  category,
		Name:      name,
		Operation: op,
		FilePath:  event.Name,
		Timestamp: time.Now(),
	}, changes)
}

// debounce coalesces rapid successive events for the same file. A create
// followed by writes is still a create; anything followed by a delete is a
// delete.
func (w *Watcher) debounce(event ChangeEvent, changes chan<- ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := event.Category + "/" + event.Name
	if entry, ok := w.pendingEvents[key]; ok {
		entry.timer.Stop()
		if entry.event.Operation == OperationCreate && event.Operation == OperationUpdate {
			event.Operation = OperationCreate
		}
	}

	timer := time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		entry, ok := w.pendingEvents[key]
		if ok {
			delete(w.pendingEvents, key)
		}
		w.mu.Unlock()
		if !ok {
			return
		}
		select {
		case changes <- entry.event:
			logging.Debug("ConfigWatcher", "Change event: %s %s/%s",
				entry.event.Operation, entry.event.Category, entry.event.Name)
		default:
			logging.Warn("ConfigWatcher", "Change channel full, dropping event for %s", key)
		}
	})

	w.pendingEvents[key] = &pendingChange{event: event, timer: timer}
}

// classify maps an absolute file path to an entity category and name.
func (w *Watcher) classify(path string) (string, string) {
	relPath, err := filepath.Rel(w.configPath, path)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(relPath, string(filepath.Separator))
	name := entityNameFromFile(parts[len(parts)-1])

	switch {
	case len(parts) == 1 && parts[0] == configFileName:
		return "config", "config"
	case len(parts) == 2 && (parts[0] == UpstreamsDir || parts[0] == GroupsDir):
		return parts[0], name
	default:
		return "", ""
	}
}

func (w *Watcher) cleanupPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entry := range w.pendingEvents {
		entry.timer.Stop()
	}
	w.pendingEvents = make(map[string]*pendingChange)
}

// Stop stops the watcher and releases the underlying fsnotify resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	if w.watcher != nil {
		if err := w.watcher.Close(); err != nil {
			logging.Error("ConfigWatcher", err, "Error closing filesystem watcher")
		}
		w.watcher = nil
	}
	return nil
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
