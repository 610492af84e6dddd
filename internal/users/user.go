package users

import "github.com/MarcoPoloResearchLab/coursework/internal/records"

// Role distinguishes faculty accounts from student accounts.
type Role string

const (
	// RoleFaculty posts projects and marks completion.
	RoleFaculty Role = "faculty"
	// RoleStudent views and submits projects for their class.
	RoleStudent Role = "student"
)

// User is one credential and profile record. Password is stored and compared as plain text.
type User struct {
	Username    string
	Password    string
	Role        Role
	DisplayName string
	// ClassName is empty for faculty.
	ClassName string
}

// IsFaculty reports whether the user holds the faculty role.
func (u User) IsFaculty() bool {
	return u.Role == RoleFaculty
}

// IsStudent reports whether the user holds the student role.
func (u User) IsStudent() bool {
	return u.Role == RoleStudent
}

// Directory holds users keyed by username in file order.
type Directory struct {
	order      []string
	byUsername map[string]User
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{byUsername: make(map[string]User)}
}

// Get looks up a user by username.
func (d *Directory) Get(username string) (User, bool) {
	user, ok := d.byUsername[username]
	return user, ok
}

// Put inserts a user, or replaces it in place when the username already exists.
func (d *Directory) Put(user User) {
	if _, exists := d.byUsername[user.Username]; !exists {
		d.order = append(d.order, user.Username)
	}
	d.byUsername[user.Username] = user
}

// All returns every user in insertion order.
func (d *Directory) All() []User {
	all := make([]User, 0, len(d.order))
	for _, username := range d.order {
		all = append(all, d.byUsername[username])
	}
	return all
}

// Len returns the number of users.
func (d *Directory) Len() int {
	return len(d.order)
}

type userCodec struct{}

var _ records.Codec[User] = userCodec{}

func (userCodec) Fields() int { return 5 }

func (userCodec) Encode(user User) []string {
	return []string{user.Username, user.Password, string(user.Role), user.DisplayName, user.ClassName}
}

func (userCodec) Decode(fields []string) (User, error) {
	return User{
		Username:    fields[0],
		Password:    fields[1],
		Role:        Role(fields[2]),
		DisplayName: fields[3],
		ClassName:   fields[4],
	}, nil
}
