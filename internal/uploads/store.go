// Package uploads names and places uploaded project attachments and student submissions.
package uploads

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"go.uber.org/zap"
)

const (
	opReserve = "uploads.reserve"

	// PublicPrefix is the URL prefix stored paths are served under.
	PublicPrefix = "uploads"

	dirPermissions = 0o755
)

// Kind selects the subdirectory an upload lands in.
type Kind string

const (
	KindProject    Kind = "projects"
	KindSubmission Kind = "submissions"
)

var (
	errMissingRoot = errors.New("uploads: root directory required")
	errUnknownKind = errors.New("uploads: unknown kind")
	errEmptyName   = errors.New("uploads: file name required")
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// Reservation is a destination chosen for one uploaded file.
type Reservation struct {
	// Destination is the file-system path to write the upload to.
	Destination string
	// StoredPath is the relative path recorded in the data files, e.g.
	// "uploads/submissions/1717000000000_report.pdf".
	StoredPath string
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Root   string
	Clock  func() time.Time
	Logger *zap.Logger
}

// Store decides where uploads are written below Root.
type Store struct {
	root   string
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errMissingRoot
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: cfg.Root, clock: clock, logger: logger}, nil
}

// Root returns the directory served under PublicPrefix.
func (s *Store) Root() string {
	return s.root
}

// Reserve creates the kind directory and returns where to write originalName.
func (s *Store) Reserve(kind Kind, originalName string) (Reservation, error) {
	if kind != KindProject && kind != KindSubmission {
		return Reservation{}, failure.Wrap(opReserve, "unknown_kind", fmt.Errorf("%w: %q", errUnknownKind, kind))
	}
	name := SanitizeName(originalName)
	if name == "" {
		return Reservation{}, failure.Wrap(opReserve, "empty_name", errEmptyName)
	}

	directory := filepath.Join(s.root, string(kind))
	if err := os.MkdirAll(directory, dirPermissions); err != nil {
		return Reservation{}, failure.Wrap(opReserve, "mkdir_failed", err)
	}
	fileName := fmt.Sprintf("%d_%s", s.clock().UnixMilli(), name)
	return Reservation{
		Destination: filepath.Join(directory, fileName),
		StoredPath:  strings.Join([]string{PublicPrefix, string(kind), fileName}, "/"),
	}, nil
}

// Discard removes a reserved file whose owning operation failed.
func (s *Store) Discard(reservation Reservation) {
	if reservation.Destination == "" {
		return
	}
	if err := os.Remove(reservation.Destination); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("upload discard failed",
			zap.String("path", reservation.Destination),
			zap.Error(err))
	}
}

// SanitizeName keeps the base name of an uploaded file and collapses whitespace runs to "_".
// Field delimiters are replaced too so the stored path survives the pipe-separated data files.
func SanitizeName(originalName string) string {
	base := filepath.Base(strings.ReplaceAll(originalName, `\`, "/"))
	if base == "." || base == "/" {
		return ""
	}
	base = strings.ReplaceAll(base, "|", "_")
	return whitespaceRuns.ReplaceAllString(base, "_")
}
