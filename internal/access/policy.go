// Package access holds the role and ownership rules applied before any project operation.
package access

import "github.com/MarcoPoloResearchLab/coursework/internal/users"

// Scope identifies who owns a project and which class it was posted to.
type Scope struct {
	FacultyName string
	ClassName   string
}

// CanCreateProject reports whether the user may post projects.
func CanCreateProject(user users.User) bool {
	return user.IsFaculty()
}

// CanViewProject allows the owning faculty and students of the project's class.
func CanViewProject(user users.User, scope Scope) bool {
	return CanManageProject(user, scope) || CanActAsStudent(user, scope)
}

// CanManageProject allows only the faculty member who posted the project.
func CanManageProject(user users.User, scope Scope) bool {
	return user.IsFaculty() && scope.FacultyName == user.DisplayName
}

// CanActAsStudent allows students whose class matches the project's class.
func CanActAsStudent(user users.User, scope Scope) bool {
	return user.IsStudent() && scope.ClassName == user.ClassName
}
