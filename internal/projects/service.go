// Package projects stores posted projects with their per-student submission state and
// implements the faculty and student operations on them.
package projects

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coursework/internal/access"
	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"github.com/MarcoPoloResearchLab/coursework/internal/rosters"
	"github.com/MarcoPoloResearchLab/coursework/internal/users"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	opCreateProject    = "projects.create"
	opGetProject       = "projects.get"
	opRecordView       = "projects.record_view"
	opRecordSubmission = "projects.record_submission"
	opSetCompletion    = "projects.set_completion"
	opListForUser      = "projects.list_for_user"
	opListStudents     = "projects.list_students"
)

var (
	errMissingStore   = errors.New("projects: store required")
	errMissingRosters = errors.New("projects: roster loader required")
)

// SortKey selects the ordering of ListStudents.
type SortKey string

const (
	SortByName      SortKey = "name"
	SortByViewed    SortKey = "viewed"
	SortBySubmitted SortKey = "submitted"
	SortByCompleted SortKey = "completed"
)

// RosterLoader supplies the class roster snapshotted into new projects.
type RosterLoader interface {
	Load(className string) ([]rosters.Entry, error)
}

// NewProject is the input accepted by CreateProject.
type NewProject struct {
	Title       string
	Description string
	// PDFFile is the stored path of the uploaded attachment.
	PDFFile   string
	ClassName string
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Store   *Store
	Rosters RosterLoader
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Service applies role-gated operations to the project store.
type Service struct {
	store   *Store
	rosters RosterLoader
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Rosters == nil {
		return nil, errMissingRosters
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   cfg.Store,
		rosters: cfg.Rosters,
		clock:   clock,
		logger:  logger,
	}, nil
}

// CreateProject posts a project for a class and snapshots the class roster into it.
func (s *Service) CreateProject(actor users.User, input NewProject) (Project, error) {
	if !access.CanCreateProject(actor) {
		return Project{}, failure.New(opCreateProject, "not_faculty", failure.ErrForbidden)
	}
	if input.Title == "" || input.ClassName == "" || input.PDFFile == "" {
		return Project{}, failure.New(opCreateProject, "invalid_input", failure.ErrInvalidInput)
	}

	var created Project
	err := s.store.Update(func(catalog *Catalog) error {
		entries, err := s.rosters.Load(input.ClassName)
		if err != nil {
			return err
		}
		project := &Project{
			ID:          catalog.NextID(),
			Title:       input.Title,
			Description: input.Description,
			PDFFile:     input.PDFFile,
			UploadDate:  s.clock().Format(UploadDateLayout),
			ClassName:   input.ClassName,
			FacultyName: actor.DisplayName,
			Students:    make([]SubmissionState, 0, len(entries)),
		}
		for _, entry := range entries {
			project.PutStudent(SubmissionState{
				RollNo:    entry.RollNo,
				Name:      entry.Name,
				ClassName: input.ClassName,
			})
		}
		catalog.Put(project)
		created = *project
		return nil
	})
	if err != nil {
		s.logError(opCreateProject, err, zap.String("username", actor.Username))
		return Project{}, err
	}

	s.logger.Info("project created",
		zap.Int("project_id", created.ID),
		zap.String("class", created.ClassName),
		zap.Int("students", len(created.Students)))
	return created, nil
}

// GetProject returns a project visible to the actor.
func (s *Service) GetProject(actor users.User, projectID int) (Project, error) {
	catalog, err := s.store.Load()
	if err != nil {
		s.logError(opGetProject, err, zap.Int("project_id", projectID))
		return Project{}, err
	}
	project, ok := catalog.Get(projectID)
	if !ok {
		return Project{}, failure.New(opGetProject, "not_found", failure.ErrNotFound)
	}
	if !access.CanViewProject(actor, project.Scope()) {
		return Project{}, failure.New(opGetProject, "forbidden", failure.ErrForbidden)
	}
	return *project, nil
}

// RecordView marks the actor's roster entries as viewed.
func (s *Service) RecordView(actor users.User, projectID int) error {
	return s.updateOwnEntries(opRecordView, actor, projectID, func(state *SubmissionState) {
		state.Viewed = true
	})
}

// RecordSubmission marks the actor's roster entries as submitted, which implies viewed.
func (s *Service) RecordSubmission(actor users.User, projectID int, storedFile string) error {
	if !actor.IsStudent() {
		return failure.New(opRecordSubmission, "not_student", failure.ErrForbidden)
	}
	if storedFile == "" {
		return failure.New(opRecordSubmission, "missing_file", failure.ErrInvalidInput)
	}
	return s.updateOwnEntries(opRecordSubmission, actor, projectID, func(state *SubmissionState) {
		state.Submitted = true
		state.Viewed = true
		state.SubmissionFile = storedFile
	})
}

// updateOwnEntries applies change to every roster entry whose name equals the actor's
// display name. Entries are matched by name because accounts carry no roll number.
func (s *Service) updateOwnEntries(operation string, actor users.User, projectID int, change func(*SubmissionState)) error {
	if !actor.IsStudent() {
		return failure.New(operation, "not_student", failure.ErrForbidden)
	}

	err := s.store.Update(func(catalog *Catalog) error {
		project, ok := catalog.Get(projectID)
		if !ok || !access.CanActAsStudent(actor, project.Scope()) {
			return failure.New(operation, "not_found", failure.ErrNotFound)
		}
		matched := false
		for index := range project.Students {
			if project.Students[index].Name == actor.DisplayName {
				change(&project.Students[index])
				matched = true
			}
		}
		if !matched {
			return failure.New(operation, "not_enrolled", failure.ErrNotEnrolled)
		}
		return nil
	})
	if err != nil {
		s.logError(operation, err,
			zap.Int("project_id", projectID),
			zap.String("username", actor.Username))
	}
	return err
}

// SetCompletion sets the completed flag of one roster entry on a project the actor owns.
func (s *Service) SetCompletion(actor users.User, projectID int, rollNo string, completed bool) error {
	if !actor.IsFaculty() {
		return failure.New(opSetCompletion, "not_faculty", failure.ErrForbidden)
	}

	err := s.store.Update(func(catalog *Catalog) error {
		project, ok := catalog.Get(projectID)
		if !ok || !access.CanManageProject(actor, project.Scope()) {
			return failure.New(opSetCompletion, "not_found", failure.ErrNotFound)
		}
		state, ok := project.Student(rollNo)
		if !ok {
			return failure.New(opSetCompletion, "student_not_found", failure.ErrNotFound)
		}
		state.Completed = completed
		project.PutStudent(state)
		return nil
	})
	if err != nil {
		s.logError(opSetCompletion, err,
			zap.Int("project_id", projectID),
			zap.String("roll_no", rollNo))
	}
	return err
}

// ListForUser returns the projects a faculty member posted, or the projects of a student's
// class, in file order.
func (s *Service) ListForUser(actor users.User) ([]Summary, error) {
	catalog, err := s.store.Load()
	if err != nil {
		s.logError(opListForUser, err, zap.String("username", actor.Username))
		return nil, err
	}
	summaries := make([]Summary, 0, catalog.Len())
	for _, project := range catalog.All() {
		scope := project.Scope()
		if access.CanManageProject(actor, scope) || access.CanActAsStudent(actor, scope) {
			summaries = append(summaries, summarize(project))
		}
	}
	return summaries, nil
}

// ListStudents returns the roster of a project the actor owns, ordered by sortKey. Names sort by
// locale-neutral collation; unknown or empty keys keep snapshot order.
func (s *Service) ListStudents(actor users.User, projectID int, sortKey SortKey) ([]SubmissionState, error) {
	if !actor.IsFaculty() {
		return nil, failure.New(opListStudents, "not_faculty", failure.ErrForbidden)
	}
	catalog, err := s.store.Load()
	if err != nil {
		s.logError(opListStudents, err, zap.Int("project_id", projectID))
		return nil, err
	}
	project, ok := catalog.Get(projectID)
	if !ok || !access.CanManageProject(actor, project.Scope()) {
		return nil, failure.New(opListStudents, "not_found", failure.ErrNotFound)
	}

	students := append([]SubmissionState(nil), project.Students...)
	sortStudents(students, sortKey)
	return students, nil
}

func sortStudents(students []SubmissionState, sortKey SortKey) {
	var flag func(SubmissionState) bool
	switch SortKey(strings.ToLower(strings.TrimSpace(string(sortKey)))) {
	case SortByName:
		collator := collate.New(language.Und)
		sort.SliceStable(students, func(i, j int) bool {
			return collator.CompareString(students[i].Name, students[j].Name) < 0
		})
		return
	case SortByViewed:
		flag = func(state SubmissionState) bool { return state.Viewed }
	case SortBySubmitted:
		flag = func(state SubmissionState) bool { return state.Submitted }
	case SortByCompleted:
		flag = func(state SubmissionState) bool { return state.Completed }
	default:
		return
	}
	sort.SliceStable(students, func(i, j int) bool {
		return flag(students[i]) && !flag(students[j])
	})
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	var coded *failure.Error
	if errors.As(err, &coded) && coded.Kind() != nil {
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("projects service error", attrs...)
}
