package offline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/comigor/alice-go/internal/logger"
)

var tracer = otel.Tracer("github.com/comigor/alice-go/internal/offline")

// Manager owns the single offline model slot. Load, Unload and Generate are
// serialised by one mutex, so a model can never be swapped out underneath a
// running generation.
type Manager struct {
	mu     sync.Mutex
	engine Engine
	path   string // absolute path of the resident model, "" when empty
}

// NewManager wraps engine. A nil engine models a missing native library: every
// Load fails with ErrNativeLibraryMissing.
func NewManager(engine Engine) *Manager {
	return &Manager{engine: engine}
}

// Load makes the model at path resident. Whatever was loaded before is
// unloaded first; if the new model fails to load the slot is left empty.
// A cancelled ctx leaves the slot untouched.
func (m *Manager) Load(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "offline.Load")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.load(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L.Warn("offline model load failed", "path", path, "error", err)
		return err
	}
	span.SetAttributes(attribute.String("model.path", m.path))
	logger.L.Info("offline model loaded", "path", m.path)
	return nil
}

func (m *Manager) load(path string) error {
	if m.engine == nil {
		return ErrNativeLibraryMissing
	}
	if path == "" {
		m.unload()
		return ErrModelFileNotFound
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		m.unload()
		return fmt.Errorf("%w: %v", ErrModelFileNotFound, err)
	}
	if m.path == abs && m.engine.IsModelLoaded() {
		return nil
	}
	m.unload()

	if err := checkReadable(abs); err != nil {
		return err
	}

	if !m.engine.LoadModel(abs) {
		// Engines may keep partial state after a refused load.
		m.engine.UnloadModel()
		if r, ok := m.engine.(LoadErrorReporter); ok {
			if lerr := r.LoadError(); lerr != nil {
				return lerr
			}
		}
		return ErrModelLoadFailure
	}
	m.path = abs
	return nil
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrModelFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case err != nil:
		return fmt.Errorf("%w: %v", ErrModelLoadFailure, err)
	case info.IsDir():
		return ErrModelFileNotFound
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrPermission) {
		return ErrPermissionDenied
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoadFailure, err)
	}
	return f.Close()
}

// Unload releases the resident model. Unloading an empty slot is a no-op.
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path != "" {
		logger.L.Info("offline model unloaded", "path", m.path)
	}
	m.unload()
}

func (m *Manager) unload() {
	if m.engine != nil && (m.path != "" || m.engine.IsModelLoaded()) {
		m.engine.UnloadModel()
	}
	m.path = ""
}

// IsLoaded reports whether the model at path (resolved to an absolute path)
// is the resident one.
func (m *Manager) IsLoaded(path string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path == abs && m.engine != nil && m.engine.IsModelLoaded()
}

// Loaded returns the resident model path.
func (m *Manager) Loaded() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" || m.engine == nil || !m.engine.IsModelLoaded() {
		return "", false
	}
	return m.path, true
}

// Generate runs the resident model on prompt. The native call cannot be
// interrupted: ctx is only checked before it starts.
func (m *Manager) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	ctx, span := tracer.Start(ctx, "offline.Generate")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.path == "" || m.engine == nil || !m.engine.IsModelLoaded() {
		span.SetStatus(codes.Error, ErrModelNotLoaded.Error())
		return "", ErrModelNotLoaded
	}

	span.SetAttributes(
		attribute.String("model.path", m.path),
		attribute.Int("prompt.bytes", len(prompt)),
		attribute.Int("max_tokens", maxTokens),
	)
	out := m.engine.GenerateText(prompt, maxTokens, temperature)
	logger.L.Debug("offline generation finished", "path", m.path, "bytes", len(out))
	return out, nil
}
