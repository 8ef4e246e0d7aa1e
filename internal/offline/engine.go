// Package offline manages the on-device inference engine: resolving model
// files into private storage and keeping at most one model resident.
package offline

import (
	"os"
	"strings"
	"sync"
	"unicode/utf8"
)

// Engine is the boundary to a native inference library. Implementations are
// not expected to be safe for concurrent use; Manager serialises every call.
type Engine interface {
	LoadModel(path string) bool
	UnloadModel()
	GenerateText(prompt string, maxTokens int, temperature float32) string
	IsModelLoaded() bool
}

// LoadErrorReporter is implemented by engines that can explain why the last
// LoadModel call returned false (for example ErrOutOfMemory).
type LoadErrorReporter interface {
	LoadError() error
}

const placeholderTail = 512

// PlaceholderEngine stands in for the native llama.cpp binding. It accepts any
// readable file as a model, empty ones included, and answers by echoing the
// tail of the prompt.
type PlaceholderEngine struct {
	mu     sync.Mutex
	loaded bool
	path   string
}

func NewPlaceholderEngine() *PlaceholderEngine {
	return &PlaceholderEngine{}
}

func (e *PlaceholderEngine) LoadModel(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loaded = false
	e.path = ""
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()

	e.loaded = true
	e.path = path
	return true
}

func (e *PlaceholderEngine) UnloadModel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
	e.path = ""
}

func (e *PlaceholderEngine) GenerateText(prompt string, _ int, _ float32) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return "Offline model is not loaded."
	}

	tail := prompt
	if len(tail) > placeholderTail {
		tail = tail[len(tail)-placeholderTail:]
		for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
			tail = tail[1:]
		}
	}

	label := e.path
	if i := strings.LastIndexAny(e.path, `/\`); i >= 0 {
		label = e.path[i+1:]
	}
	return "Offline native response (" + label + "): " + tail
}

func (e *PlaceholderEngine) IsModelLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}
