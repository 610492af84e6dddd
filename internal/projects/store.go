package projects

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"github.com/MarcoPoloResearchLab/coursework/internal/records"
	"go.uber.org/zap"
)

const (
	opStoreLoad = "projects.store.load"
	opStoreSave = "projects.store.save"

	indexFileName = "projects.txt"
)

var errMissingDirectory = errors.New("projects: data directory required")

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Directory string
	Logger    *zap.Logger
}

// Store persists the project index and one submission file per project. Every Save rewrites
// the index and every submission file, whichever project changed.
type Store struct {
	mu        sync.Mutex
	directory string
	index     *records.Table[Project]
	logger    *zap.Logger
}

// NewStore constructs a Store rooted at the configured data directory.
func NewStore(cfg StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Directory) == "" {
		return nil, errMissingDirectory
	}
	index, err := records.NewTable(records.TableConfig[Project]{
		Path:      filepath.Join(cfg.Directory, indexFileName),
		Delimiter: records.Pipe,
		Codec:     projectCodec{},
	})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{directory: cfg.Directory, index: index, logger: logger}, nil
}

// Load reads the project index and joins each project with its submission file.
func (s *Store) Load() (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save rewrites the project index and every project's submission file.
func (s *Store) Save(catalog *Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(catalog)
}

// Update runs load, mutate and save as one serialized step. A mutate error skips the save.
func (s *Store) Update(mutate func(*Catalog) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog, err := s.load()
	if err != nil {
		return err
	}
	if err := mutate(catalog); err != nil {
		return err
	}
	return s.save(catalog)
}

func (s *Store) load() (*Catalog, error) {
	loaded, _, err := s.index.LoadAll()
	if err != nil {
		return nil, failure.Wrap(opStoreLoad, "index_read_failed", err)
	}

	catalog := NewCatalog()
	for index := range loaded {
		project := loaded[index]
		table, err := s.submissionTable(project.ID)
		if err != nil {
			return nil, failure.Wrap(opStoreLoad, "submission_table_failed", err)
		}
		states, found, err := table.LoadAll()
		if err != nil {
			return nil, failure.Wrap(opStoreLoad, "submission_read_failed", err)
		}
		if !found {
			s.logger.Debug("project has no submission file", zap.Int("project_id", project.ID))
		}
		for _, state := range states {
			project.PutStudent(state)
		}
		catalog.Put(&project)
	}
	return catalog, nil
}

func (s *Store) save(catalog *Catalog) error {
	all := catalog.All()
	flat := make([]Project, 0, len(all))
	for _, project := range all {
		flat = append(flat, *project)
	}
	if err := s.index.ReplaceAll(flat); err != nil {
		return failure.Wrap(opStoreSave, "index_write_failed", err)
	}

	for _, project := range all {
		table, err := s.submissionTable(project.ID)
		if err != nil {
			return failure.Wrap(opStoreSave, "submission_table_failed", err)
		}
		if err := table.ReplaceAll(project.Students); err != nil {
			return failure.Wrap(opStoreSave, "submission_write_failed", err)
		}
	}
	return nil
}

func (s *Store) submissionTable(projectID int) (*records.Table[SubmissionState], error) {
	return records.NewTable(records.TableConfig[SubmissionState]{
		Path:      filepath.Join(s.directory, fmt.Sprintf("submissions_%d.txt", projectID)),
		Delimiter: records.Pipe,
		Codec:     submissionCodec{},
	})
}
