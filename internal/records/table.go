// Package records persists fixed-field records as delimiter-separated text lines.
//
// Fields are positional and never escaped: a delimiter inside a value splits the value, and the
// surplus fields are dropped on decode. Callers accept that limitation in exchange for files that
// stay readable and editable by hand.
package records

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Pipe separates user, project and submission fields.
	Pipe = "|"
	// Comma separates roster fields.
	Comma = ","

	filePermissions = 0o644
	dirPermissions  = 0o755
)

var (
	errMissingPath      = errors.New("records: path required")
	errMissingDelimiter = errors.New("records: delimiter required")
	errMissingCodec     = errors.New("records: codec required")
)

// Codec converts one record kind to and from its positional fields.
type Codec[T any] interface {
	Fields() int
	Encode(record T) []string
	Decode(fields []string) (T, error)
}

// TableConfig describes one backing file.
type TableConfig[T any] struct {
	Path      string
	Delimiter string
	// Header, when set, is written as the first line and skipped on load.
	Header []string
	Codec  Codec[T]
}

// Table exposes whole-file load and rewrite primitives for a single record file.
type Table[T any] struct {
	path      string
	delimiter string
	header    []string
	codec     Codec[T]
}

// NewTable validates the configuration and returns a Table.
func NewTable[T any](cfg TableConfig[T]) (*Table[T], error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errMissingPath
	}
	if cfg.Delimiter == "" {
		return nil, errMissingDelimiter
	}
	if cfg.Codec == nil {
		return nil, errMissingCodec
	}
	return &Table[T]{
		path:      cfg.Path,
		delimiter: cfg.Delimiter,
		header:    append([]string(nil), cfg.Header...),
		codec:     cfg.Codec,
	}, nil
}

// Path returns the backing file path.
func (t *Table[T]) Path() string {
	return t.path
}

// Exists reports whether the backing file is present.
func (t *Table[T]) Exists() bool {
	_, err := os.Stat(t.path)
	return err == nil
}

// LoadAll reads every record in file order. A missing file yields no records and found=false.
func (t *Table[T]) LoadAll() ([]T, bool, error) {
	content, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	lines := SplitLines(string(content))
	if len(t.header) > 0 && len(lines) > 0 {
		lines = lines[1:]
	}

	loaded := make([]T, 0, len(lines))
	for index, line := range lines {
		record, err := t.codec.Decode(t.fields(line))
		if err != nil {
			return nil, true, fmt.Errorf("%s line %d: %w", filepath.Base(t.path), index+1, err)
		}
		loaded = append(loaded, record)
	}
	return loaded, true, nil
}

// ReplaceAll overwrites the backing file with the provided records.
func (t *Table[T]) ReplaceAll(all []T) error {
	lines := make([]string, 0, len(all)+1)
	if len(t.header) > 0 {
		lines = append(lines, strings.Join(t.header, t.delimiter))
	}
	for _, record := range all {
		lines = append(lines, strings.Join(t.codec.Encode(record), t.delimiter))
	}

	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}

	if err := os.MkdirAll(filepath.Dir(t.path), dirPermissions); err != nil {
		return err
	}
	return os.WriteFile(t.path, []byte(content), filePermissions)
}

func (t *Table[T]) fields(line string) []string {
	fields := strings.Split(line, t.delimiter)
	width := t.codec.Fields()
	if len(fields) > width {
		return fields[:width]
	}
	for len(fields) < width {
		fields = append(fields, "")
	}
	return fields
}

// SplitLines splits on newlines, strips carriage returns and drops empty lines.
func SplitLines(content string) []string {
	raw := strings.Split(content, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// FormatBool encodes a flag as "1" or "0".
func FormatBool(value bool) string {
	if value {
		return "1"
	}
	return "0"
}

// ParseBool treats exactly "1" as true.
func ParseBool(value string) bool {
	return value == "1"
}
