package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/comigor/alice-go/internal/logger"
)

// DeltaSource yields the deltas of one backend response. Next follows the
// Decoder contract: io.EOF on success, any other error is terminal.
type DeltaSource interface {
	Next() (string, error)
	Close() error
}

// OpenFunc starts one attempt of a request.
type OpenFunc func(ctx context.Context) (DeltaSource, error)

// RetryPolicy bounds how often a request is attempted.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy tries twice, one second apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 2, Delay: time.Second}

// Stream is a streamed chat response. It retries the whole request on
// transient failures as long as nothing has been emitted yet; once a delta
// has been handed out a failure is final and the partial text is kept.
type Stream struct {
	ctx     context.Context
	open    OpenFunc
	policy  RetryPolicy
	src     DeltaSource
	attempt int
	emitted int
	text    strings.Builder
	err     error
}

func NewStream(ctx context.Context, open OpenFunc, policy RetryPolicy) *Stream {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Stream{ctx: ctx, open: open, policy: policy}
}

// Next returns the next delta; io.EOF marks a successful end.
func (s *Stream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		if s.src == nil {
			s.attempt++
			src, err := s.open(s.ctx)
			if err != nil {
				if retry, werr := s.shouldRetry(err); retry {
					continue
				} else if werr != nil {
					err = werr
				}
				return "", s.fail(err)
			}
			s.src = src
		}

		delta, err := s.src.Next()
		if err == nil {
			s.emitted++
			s.text.WriteString(delta)
			deltaCounter.Add(s.ctx, 1)
			return delta, nil
		}

		s.src.Close()
		s.src = nil
		if errors.Is(err, io.EOF) {
			if s.emitted == 0 {
				return "", s.fail(ErrEmptyResponse)
			}
			return "", s.fail(io.EOF)
		}
		if s.emitted == 0 {
			if retry, werr := s.shouldRetry(err); retry {
				continue
			} else if werr != nil {
				err = werr
			}
		}
		return "", s.fail(err)
	}
}

// shouldRetry waits out the retry delay when err is retryable and attempts
// remain. A non-nil error means the wait was cut short by ctx.
func (s *Stream) shouldRetry(err error) (bool, error) {
	if !Retryable(err) || s.attempt >= s.policy.MaxAttempts {
		return false, nil
	}
	logger.L.Warn("chat request failed, retrying", "attempt", s.attempt, "max_attempts", s.policy.MaxAttempts, "delay", s.policy.Delay, "error", err)
	retryCounter.Add(s.ctx, 1)

	t := time.NewTimer(s.policy.Delay)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false, s.ctx.Err()
	case <-t.C:
		return true, nil
	}
}

func (s *Stream) fail(err error) error {
	s.err = err
	return err
}

// Err is the terminal failure, nil while the stream is running or after a
// successful end.
func (s *Stream) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// Text is the concatenation of every delta emitted so far.
func (s *Stream) Text() string {
	return s.text.String()
}

// Emitted is the number of deltas returned so far.
func (s *Stream) Emitted() int {
	return s.emitted
}

// Attempts is how many times the request was started.
func (s *Stream) Attempts() int {
	return s.attempt
}

// Close releases the current response body.
func (s *Stream) Close() error {
	if s.src == nil {
		return nil
	}
	err := s.src.Close()
	s.src = nil
	if s.err == nil {
		s.err = context.Canceled
	}
	return err
}

// Deltas iterates over the stream; a failure is yielded once at the end.
func (s *Stream) Deltas() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			delta, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// Collect drains s and returns the full text.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	for _, err := range s.Deltas() {
		if err != nil {
			return s.Text(), err
		}
	}
	return s.Text(), nil
}
