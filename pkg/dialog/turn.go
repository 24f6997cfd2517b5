package dialog

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Role tags the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// ParseRole converts a wire value into a Role, rejecting anything outside the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", errors.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Turn is one utterance in a dialog. Length is derived from Content and is
// recomputed on every content change.
type Turn struct {
	id        string
	role      Role
	content   string
	length    int
	createdAt time.Time
}

func newTurn(role Role, content string, now time.Time) Turn {
	t := Turn{
		id:        uuid.NewString(),
		role:      role,
		createdAt: now,
	}
	t.setContent(content)
	return t
}

func (t *Turn) setContent(content string) {
	t.content = content
	t.length = utf8.RuneCountInString(content)
}

func (t Turn) ID() string           { return t.id }
func (t Turn) Role() Role           { return t.role }
func (t Turn) Content() string      { return t.content }
func (t Turn) Length() int          { return t.length }
func (t Turn) CreatedAt() time.Time { return t.createdAt }
