package agent

import (
	"errors"

	"github.com/comigor/alice-go/internal/llm"
	"github.com/comigor/alice-go/internal/offline"
)

var (
	// ErrBusy is returned while a reply is being generated.
	ErrBusy = errors.New("a reply is still being generated")
	// ErrEmptyMessage is returned by Ask for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("agent closed")
)

// UserMessage maps an error to the text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var streamErr *llm.StreamError
	switch {
	case errors.Is(err, ErrBusy):
		return "A reply is still being generated."
	case errors.Is(err, llm.ErrUnreachable):
		return "Cannot reach the server. Check the server URL and your connection."
	case errors.Is(err, llm.ErrTimeout):
		return "The server took too long to respond."
	case errors.Is(err, llm.ErrInvalidEndpoint):
		return "The server URL does not point to a chat endpoint."
	case errors.Is(err, llm.ErrInvalidAPIKey):
		return "The API key was rejected."
	case errors.Is(err, llm.ErrNoModels):
		return "The server returned no models."
	case errors.Is(err, llm.ErrEmptyResponse):
		return "The model returned an empty response."
	case errors.As(err, &streamErr):
		return "The server reported an error: " + streamErr.Reason
	case errors.Is(err, offline.ErrModelFileNotFound):
		return "Model file not found"
	case errors.Is(err, offline.ErrPermissionDenied):
		return "Permission denied reading the model file."
	case errors.Is(err, offline.ErrOutOfMemory):
		return "Not enough memory to load the model."
	case errors.Is(err, offline.ErrModelLoadFailure):
		return "The model could not be loaded."
	case errors.Is(err, offline.ErrNativeLibraryMissing):
		return "Offline inference is not available in this build."
	case errors.Is(err, offline.ErrModelNotLoaded):
		return "Offline model is not loaded."
	default:
		return err.Error()
	}
}
