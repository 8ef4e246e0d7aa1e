package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/comigor/alice-go/internal/logger"
	"github.com/comigor/alice-go/internal/offline"
)

// OfflineModelName is the selectable name of the offline model at path.
func OfflineModelName(path string) string {
	return OfflinePrefix + filepath.Base(path)
}

// SelectModel switches the answering backend. Names starting with
// OfflinePrefix load the configured offline model; any other name selects
// that online model and unloads the offline one. Rejected with ErrBusy while
// a reply is being generated.
func (a *Agent) SelectModel(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)

	a.mu.Lock()
	if a.generatingLocked() {
		a.mu.Unlock()
		return ErrBusy
	}
	a.mu.Unlock()

	var err error
	mode := ModeOnline
	if strings.HasPrefix(name, OfflinePrefix) {
		mode = ModeOffline
		path := a.deps.Settings.Config().Offline.ModelPath
		if strings.TrimSpace(path) == "" {
			err = offline.ErrModelFileNotFound
		} else {
			err = a.deps.Models.Load(ctx, path)
		}
	} else {
		a.deps.Models.Unload()
	}
	if err != nil {
		a.setError(err)
		return err
	}

	a.mu.Lock()
	a.mode = mode
	a.model = name
	a.setErrLocked(nil)
	a.mu.Unlock()

	if err := a.deps.Settings.SetSelectedModel(name); err != nil {
		logger.L.Warn("failed to persist selected model", "model", name, "error", err)
	}
	logger.L.Info("model selected", "model", name, "mode", mode)
	a.notify()
	return nil
}

// UpdateOfflineModelPath stores a new offline model path. A blank path
// unloads the offline model; a non-blank one is imported through the
// resolver and, if offline mode is active, loaded right away.
func (a *Agent) UpdateOfflineModelPath(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		err := a.deps.Settings.SetOfflineModelPath("")
		a.releaseModel()
		if err != nil {
			return fmt.Errorf("save offline model path: %w", err)
		}
		logger.L.Info("offline model path cleared")
		a.notify()
		return nil
	}

	if a.deps.Resolver != nil {
		resolved, err := a.deps.Resolver.Resolve(path)
		if err != nil {
			a.setError(err)
			return err
		}
		path = resolved
	}
	if err := a.deps.Settings.SetOfflineModelPath(path); err != nil {
		return fmt.Errorf("save offline model path: %w", err)
	}

	a.mu.Lock()
	a.pathGen++
	offlineMode := a.mode == ModeOffline
	busy := a.generatingLocked()
	a.mu.Unlock()

	if offlineMode && !busy {
		if err := a.deps.Models.Load(ctx, path); err != nil {
			a.setError(err)
			return err
		}
		a.mu.Lock()
		a.model = OfflineModelName(path)
		a.mu.Unlock()
	}
	a.notify()
	return nil
}

// releaseModel unloads the offline model and marks the configured path as
// changed, so a generation that read the old path does not keep it loaded.
// The new path must be saved before calling it.
func (a *Agent) releaseModel() {
	a.mu.Lock()
	a.pathGen++
	a.mu.Unlock()
	a.deps.Models.Unload()
}

// OfflineModelPathChanged releases the offline model after the configured
// path was changed outside the agent, e.g. by editing the settings file.
func (a *Agent) OfflineModelPathChanged() {
	a.releaseModel()
	a.notify()
}

// ListOnlineModels returns the models of the online server followed by the
// offline entry when an offline model path is configured.
func (a *Agent) ListOnlineModels(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	var models []string
	var err error
	if client != nil {
		models, err = client.ListModels(ctx)
	}
	if path := a.deps.Settings.Config().Offline.ModelPath; strings.TrimSpace(path) != "" {
		models = append(models, OfflineModelName(path))
	}
	return models, err
}

func (a *Agent) setError(err error) {
	a.mu.Lock()
	a.setErrLocked(err)
	a.mu.Unlock()
	a.notify()
}
