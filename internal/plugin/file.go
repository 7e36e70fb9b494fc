package plugin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

const maxLineSize = 1 << 20

// FileSource reads JSON-lines events from a file, or stdin for "-".
type FileSource struct {
	path   string
	stdin  io.Reader
	logger *telemetry.Logger
}

// NewFileSource creates a file source.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:   path,
		stdin:  os.Stdin,
		logger: telemetry.NewLogger("file-source"),
	}
}

// Name implements Source.
func (s *FileSource) Name() string { return "file" }

// Run implements Source. Lines failing the schema are logged and skipped.
func (s *FileSource) Run(ctx context.Context, handle Handler) error {
	r, closeFn, err := s.open()
	if err != nil {
		return err
	}
	defer closeFn()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		in, err := Decode(raw)
		if err != nil {
			s.logger.WithContext(ctx).Warn().
				Err(err).
				Str("path", s.path).
				Int("line", line).
				Msg("skipping invalid event")
			continue
		}
		if err := handle(ctx, in); err != nil {
			return fmt.Errorf("failed to handle event on line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSource) open() (io.Reader, func(), error) {
	if s.path == "-" || s.path == "" {
		return s.stdin, func() {}, nil
	}
	f, err := os.Open(s.path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// ReadEvents decodes every event in r. It accepts a JSON array, a single
// object or JSON lines, and stops at the first invalid event.
func ReadEvents(r io.Reader) ([]types.EventInput, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		return decodeAll(raws)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var raws []json.RawMessage
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		raws = append(raws, raw)
	}
	return decodeAll(raws)
}

func decodeAll(raws []json.RawMessage) ([]types.EventInput, error) {
	out := make([]types.EventInput, 0, len(raws))
	for i, raw := range raws {
		in, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, in)
	}
	return out, nil
}
