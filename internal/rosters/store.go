// Package rosters loads the per-class student rosters kept as comma-separated files.
package rosters

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"github.com/MarcoPoloResearchLab/coursework/internal/records"
	"go.uber.org/zap"
)

const (
	opLoad = "rosters.load"
	opSeed = "rosters.seed"

	filePrefix = "class_"
	fileSuffix = ".csv"
)

var (
	errMissingDirectory = errors.New("rosters: directory required")
	errInvalidClassName = errors.New("rosters: class name must not contain path separators")
	header              = []string{"RollNo", "Name"}
)

// Entry is one enrolled student.
type Entry struct {
	RollNo    string
	Name      string
	ClassName string
}

// DefaultClasses are seeded at startup when their roster file is absent.
var DefaultClasses = []string{"CS101", "CS102", "CS103", "EE101", "ME101"}

var sampleRosters = map[string][][2]string{
	"CS101": {
		{"CS101001", "Alice Johnson"},
		{"CS101002", "Bob Smith"},
		{"CS101003", "Charlie Brown"},
		{"CS101004", "Diana Prince"},
		{"CS101005", "Eve Wilson"},
	},
	"CS102": {
		{"CS102001", "Frank Castle"},
		{"CS102002", "Grace Hopper"},
		{"CS102003", "Henry Ford"},
	},
	"CS103": {{"CS103001", "Isaac Newton"}},
	"EE101": {{"EE101001", "Nikola Tesla"}},
	"ME101": {{"ME101001", "James Watt"}},
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Directory string
	Logger    *zap.Logger
}

// Store reads roster files from a directory. Rosters are reference data and never rewritten.
type Store struct {
	directory string
	logger    *zap.Logger
}

// NewStore constructs a Store over the configured directory.
func NewStore(cfg StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Directory) == "" {
		return nil, errMissingDirectory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{directory: cfg.Directory, logger: logger}, nil
}

// SeedDefaults seeds every class in DefaultClasses.
func (s *Store) SeedDefaults() error {
	for _, classID := range DefaultClasses {
		if err := s.SeedIfMissing(classID); err != nil {
			return err
		}
	}
	return nil
}

// SeedIfMissing writes the header and the sample rows for classID when its file does not exist.
// Classes without sample rows get a header-only file.
func (s *Store) SeedIfMissing(classID string) error {
	table, err := s.table(classID)
	if err != nil {
		return failure.Wrap(opSeed, "table_failed", err)
	}
	if table.Exists() {
		return nil
	}

	samples := sampleRosters[classID]
	entries := make([]Entry, 0, len(samples))
	for _, sample := range samples {
		entries = append(entries, Entry{RollNo: sample[0], Name: sample[1], ClassName: classID})
	}
	if err := table.ReplaceAll(entries); err != nil {
		return failure.Wrap(opSeed, "write_failed", err)
	}
	s.logger.Info("class roster seeded",
		zap.String("class", classID),
		zap.Int("students", len(entries)))
	return nil
}

// Load returns the roster of className in file order; a missing file yields an empty roster.
func (s *Store) Load(className string) ([]Entry, error) {
	table, err := s.table(className)
	if errors.Is(err, errInvalidClassName) {
		return nil, failure.New(opLoad, "invalid_class", failure.ErrInvalidInput)
	}
	if err != nil {
		return nil, failure.Wrap(opLoad, "table_failed", err)
	}
	entries, _, err := table.LoadAll()
	if err != nil {
		return nil, failure.Wrap(opLoad, "read_failed", err)
	}
	for index := range entries {
		entries[index].ClassName = className
	}
	return entries, nil
}

func (s *Store) table(className string) (*records.Table[Entry], error) {
	if strings.ContainsAny(className, `/\`) {
		return nil, errInvalidClassName
	}
	return records.NewTable(records.TableConfig[Entry]{
		Path:      filepath.Join(s.directory, filePrefix+className+fileSuffix),
		Delimiter: records.Comma,
		Header:    header,
		Codec:     entryCodec{},
	})
}

type entryCodec struct{}

func (entryCodec) Fields() int { return 2 }

func (entryCodec) Encode(entry Entry) []string {
	return []string{entry.RollNo, entry.Name}
}

func (entryCodec) Decode(fields []string) (Entry, error) {
	return Entry{RollNo: fields[0], Name: fields[1]}, nil
}
