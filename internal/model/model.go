package model

import (
	"context"
	"strings"
	"time"
)

// UserRole represents an admin-area user's access level.
type UserRole string

const (
	// UserRoleTeacher can browse recorded submissions.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin can also manage users.
	UserRoleAdmin UserRole = "admin"
)

// User represents a teacher or administrator account.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Phase is the position of a submission in the draft/revision flow.
type Phase string

const (
	PhaseDrafting         Phase = "drafting"
	PhaseAwaitingRevision Phase = "awaiting_revision"
	PhaseComplete         Phase = "complete"
)

// MarkNotFound is reported when the model output carries no recognisable mark.
const MarkNotFound = "N/A"

// Mark is the score token extracted from model output, e.g. "7,5/10".
type Mark struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// String returns the token, or MarkNotFound.
func (m Mark) String() string {
	if !m.Found || m.Value == "" {
		return MarkNotFound
	}
	return m.Value
}

// Identity names the group and the students who wrote an essay.
type Identity struct {
	Group    string   `json:"group"`
	Students []string `json:"students"`
}

// NewIdentity trims names and drops blank ones, keeping order.
func NewIdentity(group string, names ...string) Identity {
	id := Identity{Group: strings.TrimSpace(group)}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			id.Students = append(id.Students, n)
		}
	}
	return id
}

// DisplayName renders the student list as a single string.
func (i Identity) DisplayName() string {
	return strings.Join(i.Students, ", ")
}

// Empty reports whether no student name was given.
func (i Identity) Empty() bool {
	for _, s := range i.Students {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

// SubmissionRecord is one student session's draft and revision state.
type SubmissionRecord struct {
	ID               string    `json:"id"`
	Phase            Phase     `json:"phase"`
	Identity         Identity  `json:"identity"`
	Draft            string    `json:"draft"`
	Feedback         string    `json:"feedback"`
	Mark             Mark      `json:"mark"`
	WordCount        int       `json:"word_count"`
	Revision         string    `json:"revision"`
	RevisionFeedback string    `json:"revision_feedback"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Rubric is the static grading configuration sent to the model.
type Rubric struct {
	Label          string   `toml:"label" json:"label"`
	Task           string   `toml:"task" json:"task"`
	RequiredPoints []string `toml:"required_points" json:"required_points"`
	Rules          string   `toml:"rules" json:"rules"`
	OutputFormat   string   `toml:"output_format" json:"output_format"`
	Groups         []string `toml:"groups" json:"groups"`
	MaxStudents    int      `toml:"max_students" json:"max_students"`
	LeakMarkers    []string `toml:"leak_markers" json:"leak_markers"`
}

// HasGroup reports whether g is an allowed group. An empty group list allows any group.
func (r Rubric) HasGroup(g string) bool {
	if len(r.Groups) == 0 {
		return true
	}
	for _, allowed := range r.Groups {
		if allowed == g {
			return true
		}
	}
	return false
}

// EventKind distinguishes first-draft and revision sink events.
type EventKind string

const (
	EventFirst    EventKind = "FIRST"
	EventRevision EventKind = "REVISION"
)

// Event is the flat record posted to the logging sink.
type Event struct {
	ID           string    `json:"event_id"`
	Kind         EventKind `json:"type"`
	SubmissionID string    `json:"submission_id"`
	Group        string    `json:"group"`
	Students     string    `json:"students"`
	Task         string    `json:"task"`
	Mark         string    `json:"mark"`
	Essay        string    `json:"essay"`
	Feedback     string    `json:"feedback"`
	WordCount    int       `json:"word_count"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath      string        // URL prefix for sub-path deployments (e.g. "/es")
	SecureCookies bool          // Set Secure flag on cookies (disable for local dev)
	SessionTTL    time.Duration // Lifetime of an idle submission record
	CORSOrigins   []string
}
