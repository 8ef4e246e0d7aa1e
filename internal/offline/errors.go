package offline

import "errors"

var (
	ErrModelFileNotFound    = errors.New("Model file not found")
	ErrPermissionDenied     = errors.New("permission denied reading model file")
	ErrOutOfMemory          = errors.New("not enough memory to load model")
	ErrModelLoadFailure     = errors.New("failed to load model")
	ErrNativeLibraryMissing = errors.New("native inference library is not available")
	ErrModelNotLoaded       = errors.New("offline model is not loaded")
)
