// Incremental decoder for the line-oriented completion event stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrStreamAborted is returned when the stream ends (or is cancelled)
	// before a terminal event was observed. Callers use it to tell a
	// truncated reply from a complete one.
	ErrStreamAborted = errors.New("stream aborted before terminal event")

	// ErrAuthRejected is returned when the stream carries an explicit error
	// event. The documented failure mode for that event is an expired or
	// rejected credential.
	ErrAuthRejected = errors.New("stream error event: credential rejected")
)

const (
	eventPrefix  = "data: "
	doneSentinel = "[DONE]"

	// NoContent is returned by DecodeAll when the stream was recognized but
	// carried zero characters of content, so callers can distinguish an
	// empty reply from a parse failure.
	NoContent = "No response content received"
)

// Event kinds carried on data lines.
const (
	eventContentDelta      = "content_block_delta"
	eventMessageStart      = "message_start"
	eventContentBlockStart = "content_block_start"
	eventContentBlockStop  = "content_block_stop"
	eventMessageStop       = "message_stop"
	eventError             = "error"
)

// Decoder accumulates reply text from raw stream chunks. Chunks may split
// lines at arbitrary byte boundaries; partial lines are buffered until a
// full line terminator arrives.
type Decoder struct {
	partial strings.Builder
	text    strings.Builder
	done    bool
	err     error
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one raw chunk and returns one cumulative-text snapshot per
// content delta decoded from it, in arrival order. done reports that a
// terminal event was seen; after that, further chunks are ignored.
func (d *Decoder) Feed(chunk string) (updates []string, done bool, err error) {
	if d.done || d.err != nil {
		return nil, d.done, d.err
	}

	d.partial.WriteString(chunk)
	buffered := d.partial.String()

	lines := strings.Split(buffered, "\n")
	// The last element is an incomplete line; keep it for the next chunk.
	d.partial.Reset()
	d.partial.WriteString(lines[len(lines)-1])

	for _, line := range lines[:len(lines)-1] {
		grew, terminal, lineErr := d.processLine(line)
		if lineErr != nil {
			d.err = lineErr
			return updates, false, lineErr
		}
		if grew {
			updates = append(updates, d.text.String())
		}
		if terminal {
			d.done = true
			return updates, true, nil
		}
	}

	return updates, false, nil
}

// processLine parses a single complete line. Lines without the event prefix
// and lines whose payload is not valid JSON are skipped silently.
func (d *Decoder) processLine(line string) (grew bool, terminal bool, err error) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, eventPrefix) {
		return false, false, nil
	}

	payload := strings.TrimSpace(line[len(eventPrefix):])
	if payload == "" {
		return false, false, nil
	}
	if payload == doneSentinel {
		return false, true, nil
	}
	if !gjson.Valid(payload) {
		return false, false, nil
	}

	switch gjson.Get(payload, "type").String() {
	case eventContentDelta:
		if fragment := gjson.Get(payload, "delta.text"); fragment.Exists() {
			d.text.WriteString(fragment.String())
			return true, false, nil
		}
	case eventMessageStart, eventContentBlockStart, eventContentBlockStop:
		// Structural events, no text.
	case eventMessageStop:
		return false, true, nil
	case eventError:
		msg := gjson.Get(payload, "error.message").String()
		if msg == "" {
			msg = "unknown error"
		}
		return false, false, fmt.Errorf("%w: %s", ErrAuthRejected, msg)
	}

	return false, false, nil
}

// Text returns the cumulative decoded text.
func (d *Decoder) Text() string {
	return d.text.String()
}

// Done reports whether a terminal event has been observed.
func (d *Decoder) Done() bool {
	return d.done
}

// DecodeAll applies the same line and event rules to an entire response body
// at once and returns the final cumulative text. A recognized stream with
// zero content yields the NoContent sentinel.
func DecodeAll(body string) (string, error) {
	d := NewDecoder()
	// A complete body's last line counts even without a trailing terminator.
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if _, _, err := d.Feed(body); err != nil {
		return "", err
	}
	text := strings.TrimSpace(d.Text())
	if text == "" {
		return NoContent, nil
	}
	return text, nil
}

// Update is one item yielded by Stream: a cumulative-text snapshot, or the
// terminal value (Done with the final text, or Err).
type Update struct {
	Text string
	Done bool
	Err  error
}

// Stream reads r chunk by chunk and yields cumulative-text updates on the
// returned channel, in arrival order, followed by exactly one terminal
// Update. Cancelling ctx aborts the stream with ErrStreamAborted, as does
// the reader ending before a terminal event.
func Stream(ctx context.Context, r io.Reader) <-chan Update {
	out := make(chan Update, 16)

	type readResult struct {
		data []byte
		err  error
	}

	// Reads happen on their own goroutine so a blocked Read cannot keep the
	// stream alive past cancellation. Aborting the underlying connection
	// unblocks the pending Read and lets this goroutine exit.
	reads := make(chan readResult, 1)
	go func() {
		for {
			buf := make([]byte, 4096)
			n, err := r.Read(buf)
			reads <- readResult{data: buf[:n], err: err}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(out)
		d := NewDecoder()

		for {
			var rr readResult
			select {
			case <-ctx.Done():
				out <- Update{Text: d.Text(), Done: true, Err: ErrStreamAborted}
				return
			case rr = <-reads:
			}

			if len(rr.data) > 0 {
				updates, done, err := d.Feed(string(rr.data))
				for _, text := range updates {
					select {
					case out <- Update{Text: text}:
					case <-ctx.Done():
						out <- Update{Text: d.Text(), Done: true, Err: ErrStreamAborted}
						return
					}
				}
				if err != nil {
					out <- Update{Text: d.Text(), Done: true, Err: err}
					return
				}
				if done {
					out <- Update{Text: d.Text(), Done: true}
					return
				}
			}
			if rr.err != nil {
				// EOF (or a transport error) before a terminal event means
				// the reply was truncated.
				out <- Update{Text: d.Text(), Done: true, Err: ErrStreamAborted}
				return
			}
		}
	}()

	return out
}
