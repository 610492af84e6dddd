package projects

import (
	"fmt"
	"strconv"

	"github.com/MarcoPoloResearchLab/coursework/internal/access"
	"github.com/MarcoPoloResearchLab/coursework/internal/records"
)

// UploadDateLayout formats Project.UploadDate with second precision.
const UploadDateLayout = "2006-01-02 15:04:05"

// SubmissionState tracks one enrolled student's progress on one project.
type SubmissionState struct {
	RollNo         string
	Name           string
	ClassName      string
	Viewed         bool
	Submitted      bool
	Completed      bool
	SubmissionFile string
}

// Project is a posted assignment together with the roster snapshot taken when it was created.
type Project struct {
	ID          int
	Title       string
	Description string
	PDFFile     string
	UploadDate  string
	ClassName   string
	FacultyName string
	// Students is keyed by RollNo and kept in snapshot order.
	Students []SubmissionState
}

// Scope returns the ownership and class attributes checked by the access policy.
func (p *Project) Scope() access.Scope {
	return access.Scope{FacultyName: p.FacultyName, ClassName: p.ClassName}
}

// Student returns the entry for rollNo.
func (p *Project) Student(rollNo string) (SubmissionState, bool) {
	index := p.studentIndex(rollNo)
	if index < 0 {
		return SubmissionState{}, false
	}
	return p.Students[index], true
}

// PutStudent inserts the entry, or replaces the entry with the same RollNo in place.
func (p *Project) PutStudent(state SubmissionState) {
	if index := p.studentIndex(state.RollNo); index >= 0 {
		p.Students[index] = state
		return
	}
	p.Students = append(p.Students, state)
}

// Counts aggregates the students' flags.
func (p *Project) Counts() Counts {
	counts := Counts{Total: len(p.Students)}
	for _, state := range p.Students {
		if state.Viewed {
			counts.Viewed++
		}
		if state.Submitted {
			counts.Submitted++
		}
		if state.Completed {
			counts.Completed++
		}
	}
	return counts
}

func (p *Project) studentIndex(rollNo string) int {
	for index := range p.Students {
		if p.Students[index].RollNo == rollNo {
			return index
		}
	}
	return -1
}

// Counts summarizes a project's roster.
type Counts struct {
	Total     int
	Viewed    int
	Submitted int
	Completed int
}

// Summary is the listing view of a project.
type Summary struct {
	ID          int
	Title       string
	Description string
	UploadDate  string
	ClassName   string
	FacultyName string
	PDFFile     string
	Counts      Counts
}

func summarize(p *Project) Summary {
	return Summary{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		UploadDate:  p.UploadDate,
		ClassName:   p.ClassName,
		FacultyName: p.FacultyName,
		PDFFile:     p.PDFFile,
		Counts:      p.Counts(),
	}
}

// Catalog holds every project keyed by id in file order.
type Catalog struct {
	order []int
	byID  map[int]*Project
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[int]*Project)}
}

// Get returns the project with the given id.
func (c *Catalog) Get(id int) (*Project, bool) {
	project, ok := c.byID[id]
	return project, ok
}

// Put inserts a project, or replaces the project with the same id in place.
func (c *Catalog) Put(project *Project) {
	if _, exists := c.byID[project.ID]; !exists {
		c.order = append(c.order, project.ID)
	}
	c.byID[project.ID] = project
}

// All returns every project in insertion order.
func (c *Catalog) All() []*Project {
	all := make([]*Project, 0, len(c.order))
	for _, id := range c.order {
		all = append(all, c.byID[id])
	}
	return all
}

// Len returns the number of projects.
func (c *Catalog) Len() int {
	return len(c.order)
}

// NextID returns one more than the highest id present, or 1 for an empty catalog.
func (c *Catalog) NextID() int {
	next := 1
	for id := range c.byID {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

type projectCodec struct{}

var _ records.Codec[Project] = projectCodec{}

func (projectCodec) Fields() int { return 7 }

func (projectCodec) Encode(p Project) []string {
	return []string{
		strconv.Itoa(p.ID),
		p.Title,
		p.Description,
		p.PDFFile,
		p.UploadDate,
		p.ClassName,
		p.FacultyName,
	}
}

func (projectCodec) Decode(fields []string) (Project, error) {
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Project{}, fmt.Errorf("invalid project id %q: %w", fields[0], err)
	}
	return Project{
		ID:          id,
		Title:       fields[1],
		Description: fields[2],
		PDFFile:     fields[3],
		UploadDate:  fields[4],
		ClassName:   fields[5],
		FacultyName: fields[6],
	}, nil
}

type submissionCodec struct{}

var _ records.Codec[SubmissionState] = submissionCodec{}

func (submissionCodec) Fields() int { return 7 }

func (submissionCodec) Encode(state SubmissionState) []string {
	return []string{
		state.RollNo,
		state.Name,
		state.ClassName,
		records.FormatBool(state.Viewed),
		records.FormatBool(state.Submitted),
		records.FormatBool(state.Completed),
		state.SubmissionFile,
	}
}

func (submissionCodec) Decode(fields []string) (SubmissionState, error) {
	return SubmissionState{
		RollNo:         fields[0],
		Name:           fields[1],
		ClassName:      fields[2],
		Viewed:         records.ParseBool(fields[3]),
		Submitted:      records.ParseBool(fields[4]),
		Completed:      records.ParseBool(fields[5]),
		SubmissionFile: fields[6],
	}, nil
}
