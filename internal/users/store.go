// Package users persists credential and profile records in a single pipe-delimited file.
package users

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"github.com/MarcoPoloResearchLab/coursework/internal/records"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	opLoad         = "users.load"
	opSave         = "users.save"
	opRegister     = "users.register"
	opAuthenticate = "users.authenticate"
)

var errMissingPath = errors.New("users: file path required")

// BootstrapAccounts are written when the users file does not exist yet.
var BootstrapAccounts = []User{
	{Username: "faculty1", Password: "pass123", Role: RoleFaculty, DisplayName: "Dr. Smith"},
	{Username: "student1", Password: "pass123", Role: RoleStudent, DisplayName: "John Doe", ClassName: "CS101"},
}

// Registration is the input accepted by Register.
type Registration struct {
	Username    string `validate:"required"`
	Password    string `validate:"required"`
	DisplayName string `validate:"required"`
	Role        Role   `validate:"required,oneof=faculty student"`
	ClassName   string
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Path   string
	Logger *zap.Logger
}

// Store reads and rewrites the users file. Every call goes back to disk.
type Store struct {
	mu       sync.Mutex
	table    *records.Table[User]
	validate *validator.Validate
	logger   *zap.Logger
}

// NewStore constructs a Store for the configured file.
func NewStore(cfg StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errMissingPath
	}
	table, err := records.NewTable(records.TableConfig[User]{
		Path:      cfg.Path,
		Delimiter: records.Pipe,
		Codec:     userCodec{},
	})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		table:    table,
		validate: validator.New(),
		logger:   logger,
	}, nil
}

// Load returns a fresh Directory reflecting the file, seeding the bootstrap accounts first
// when the file is absent.
func (s *Store) Load() (*Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save overwrites the users file with every record in the directory.
func (s *Store) Save(directory *Directory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(directory)
}

// Register adds a new account. The class name is kept for students only.
func (s *Store) Register(registration Registration) error {
	if err := s.validate.Struct(registration); err != nil {
		return failure.New(opRegister, "invalid_input", failure.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	directory, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := directory.Get(registration.Username); exists {
		return failure.New(opRegister, "duplicate_username", failure.ErrDuplicate)
	}

	user := User{
		Username:    registration.Username,
		Password:    registration.Password,
		Role:        registration.Role,
		DisplayName: registration.DisplayName,
	}
	if user.Role == RoleStudent {
		user.ClassName = registration.ClassName
	}
	directory.Put(user)

	if err := s.save(directory); err != nil {
		return err
	}
	s.logger.Info("user registered",
		zap.String("username", user.Username),
		zap.String("role", string(user.Role)))
	return nil
}

// Authenticate returns the stored user when the password matches exactly.
func (s *Store) Authenticate(username, password string) (User, error) {
	directory, err := s.Load()
	if err != nil {
		return User{}, err
	}
	user, ok := directory.Get(username)
	if !ok || subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
		return User{}, failure.New(opAuthenticate, "invalid_credentials", failure.ErrInvalidCredentials)
	}
	return user, nil
}

func (s *Store) load() (*Directory, error) {
	if !s.table.Exists() {
		if err := s.table.ReplaceAll(BootstrapAccounts); err != nil {
			return nil, failure.Wrap(opLoad, "bootstrap_failed", err)
		}
		s.logger.Info("bootstrap accounts written", zap.String("path", s.table.Path()))
	}

	loaded, _, err := s.table.LoadAll()
	if err != nil {
		return nil, failure.Wrap(opLoad, "read_failed", err)
	}
	directory := NewDirectory()
	for _, user := range loaded {
		directory.Put(user)
	}
	return directory, nil
}

func (s *Store) save(directory *Directory) error {
	if err := s.table.ReplaceAll(directory.All()); err != nil {
		return failure.Wrap(opSave, "write_failed", err)
	}
	return nil
}
