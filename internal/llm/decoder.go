package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/comigor/alice-go/internal/logger"
)

// chunk is one line of a streamed response. Chat endpoints fill Message,
// generate endpoints fill Response.
type chunk struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Response *string         `json:"response"`
	Done     bool            `json:"done"`
	Error    json.RawMessage `json:"error"`
}

func (c *chunk) delta() string {
	if c.Message != nil && c.Message.Content != "" {
		return c.Message.Content
	}
	if c.Response != nil {
		return *c.Response
	}
	return ""
}

// errorText extracts a reason from the error field, which backends send either
// as a string or as an object with a message.
func (c *chunk) errorText() (string, bool) {
	raw := bytes.TrimSpace(c.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			s = "stream error"
		}
		return s, true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	return string(raw), true
}

// Decoder reads newline-delimited JSON chunks and yields text deltas.
//
// Blank lines, lines identical to the previous one and lines that fail to
// parse are skipped. An optional "data:" prefix is stripped and a literal
// [DONE] ends the stream.
type Decoder struct {
	r       *bufio.Reader
	last    string
	emitted int
	final   error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next delta. At the end of a successful stream it returns
// io.EOF; a stream that produced no delta ends with ErrEmptyResponse and an
// in-stream error ends with *StreamError. Read errors from the underlying
// reader are returned as they are. Terminal errors are sticky.
func (d *Decoder) Next() (string, error) {
	if d.final != nil {
		return "", d.final
	}
	for {
		line, rerr := d.r.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return "", d.finish(rerr)
		}
		if line == "" && rerr != nil {
			return "", d.end()
		}

		delta, done, err := d.line(line)
		switch {
		case err != nil:
			return "", d.finish(err)
		case done:
			return "", d.end()
		case delta != "":
			d.emitted++
			return delta, nil
		}
		if rerr != nil {
			return "", d.end()
		}
	}
}

// line handles one raw line.
func (d *Decoder) line(raw string) (delta string, done bool, err error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false, nil
	}
	if text == d.last {
		return "", false, nil
	}
	d.last = text

	if strings.HasPrefix(text, "data:") {
		text = strings.TrimSpace(strings.TrimPrefix(text, "data:"))
	}
	if text == "[DONE]" {
		return "", true, nil
	}

	var c chunk
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		logger.L.Debug("skipping malformed stream line", "line", text, "error", err)
		return "", false, nil
	}
	if reason, ok := c.errorText(); ok {
		return "", false, &StreamError{Reason: reason}
	}
	if c.Done {
		return "", true, nil
	}
	return c.delta(), false, nil
}

func (d *Decoder) end() error {
	if d.emitted == 0 {
		return d.finish(ErrEmptyResponse)
	}
	return d.finish(io.EOF)
}

func (d *Decoder) finish(err error) error {
	d.final = err
	return err
}

// Emitted is the number of deltas returned so far.
func (d *Decoder) Emitted() int {
	return d.emitted
}

// Deltas iterates over the stream. The iteration ends silently on success;
// any failure is yielded once as the final pair.
func (d *Decoder) Deltas() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			delta, err := d.Next()
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
