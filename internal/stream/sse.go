package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxFrameSize bounds a single SSE frame (all data lines together).
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("sse frame exceeds size limit")

// Writer emits events as `event: <type>\ndata: <json>\n\n` and flushes after
// each one when the underlying writer supports it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

func (sw *Writer) WriteEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// WriteComment writes an SSE comment line, used as a keep-alive.
func (sw *Writer) WriteComment(text string) error {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Reader parses Server-Sent Events frames.
type Reader struct {
	reader *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// ReadFrame returns the next frame's event name and joined data lines.
// Returns io.EOF when the stream ends between frames.
func (s *Reader) ReadFrame() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.readLine()
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) {
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			if err != nil {
				return "", nil, io.EOF
			}
			continue
		}

		switch {
		case line[0] == ':':
			// comment / keep-alive
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[len("data:"):]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			size += len(data)
			if size > MaxFrameSize {
				return "", nil, ErrFrameTooLarge
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
		// id: and retry: are not used by this protocol

		if err != nil {
			// last line had no trailing newline
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, io.EOF
		}
	}
}

// readLine reads up to and including '\n'. A line longer than any valid
// frame is rejected before it is fully buffered.
func (s *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(line)+len(chunk) > MaxFrameSize+len("data: \r\n") {
			return nil, ErrFrameTooLarge
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

// ReadEvent reads and decodes the next frame.
func (s *Reader) ReadEvent() (Event, error) {
	name, data, err := s.ReadFrame()
	if err != nil {
		return Event{}, err
	}
	return decodeEvent(name, data)
}
