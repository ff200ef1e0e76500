package auth

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/forumapi/internal/models"
)

var ErrAuthorizationDenied = errors.New("authorization denied")

// Action is a mutating operation on a forum resource.
type Action string

const (
	ActionEditQuestion    Action = "question:edit"
	ActionDeleteQuestion  Action = "question:delete"
	ActionLockQuestion    Action = "question:lock"
	ActionMarkForTraining Action = "question:mark-training"
	ActionEditAnswer      Action = "answer:edit"
	ActionDeleteAnswer    Action = "answer:delete"
	ActionAcceptAnswer    Action = "answer:accept"
)

// Actions lists every action known to the policy.
var Actions = []Action{
	ActionEditQuestion,
	ActionDeleteQuestion,
	ActionLockQuestion,
	ActionMarkForTraining,
	ActionEditAnswer,
	ActionDeleteAnswer,
	ActionAcceptAnswer,
}

// grant records who may perform an action besides admins.
type grant struct {
	teacher   bool
	assistant bool
	author    bool
}

// policy maps actions to their grants. Admins are allowed everything.
var policy = map[Action]grant{
	ActionEditQuestion:    {teacher: true, assistant: true, author: true},
	ActionDeleteQuestion:  {teacher: true, assistant: true},
	ActionLockQuestion:    {teacher: true},
	ActionMarkForTraining: {},
	ActionEditAnswer:      {teacher: true, assistant: true, author: true},
	ActionDeleteAnswer:    {teacher: true, assistant: true},
	ActionAcceptAnswer:    {teacher: true, assistant: true},
}

// Allowed reports whether a user with the given role, admin flag and ownership may perform action.
// Unknown actions are denied to everyone but admins.
func Allowed(action Action, role models.Role, isAdmin, isAuthor bool) bool {
	if isAdmin {
		return true
	}

	g, ok := policy[action]
	if !ok {
		return false
	}

	switch {
	case role == models.RoleTeacher && g.teacher:
		return true
	case role == models.RoleAssistant && g.assistant:
		return true
	}

	return isAuthor && g.author
}

// IsAuthor reports whether the acting user owns the resource.
func IsAuthor(ownerID, currentUserID string) bool {
	return ownerID != "" && ownerID == currentUserID
}

func CanEditQuestion(role models.Role, isAdmin, isAuthor bool) bool {
	return Allowed(ActionEditQuestion, role, isAdmin, isAuthor)
}

func CanDeleteQuestion(role models.Role, isAdmin, isAuthor bool) bool {
	return Allowed(ActionDeleteQuestion, role, isAdmin, isAuthor)
}

func CanLockQuestion(role models.Role, isAdmin bool) bool {
	return Allowed(ActionLockQuestion, role, isAdmin, false)
}

func CanMarkForTraining(isAdmin bool) bool {
	return Allowed(ActionMarkForTraining, "", isAdmin, false)
}

func CanEditAnswer(role models.Role, isAdmin, isAuthor bool) bool {
	return Allowed(ActionEditAnswer, role, isAdmin, isAuthor)
}

func CanDeleteAnswer(role models.Role, isAdmin, isAuthor bool) bool {
	return Allowed(ActionDeleteAnswer, role, isAdmin, isAuthor)
}

func CanAcceptAnswer(role models.Role, isAdmin bool) bool {
	return Allowed(ActionAcceptAnswer, role, isAdmin, false)
}

// Authorize checks that user may perform action on a resource owned by ownerID.
// A nil user is always denied.
func Authorize(user *User, action Action, ownerID string) error {
	if user == nil {
		return fmt.Errorf("%w: %s requires a logged in user", ErrAuthorizationDenied, action)
	}

	if !Allowed(action, user.Role, user.IsAdmin, IsAuthor(ownerID, user.Sciper)) {
		return fmt.Errorf("%w: %s not permitted for role %s", ErrAuthorizationDenied, action, user.Role)
	}

	return nil
}
