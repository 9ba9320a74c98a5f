package views

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appI18n "github.com/pavelanni/essaygrader/internal/i18n"
	"github.com/pavelanni/essaygrader/internal/model"
)

func render(t *testing.T, ctx context.Context, c templ.Component) string {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))
	var buf bytes.Buffer
	require.NoError(t, c.Render(ctx, &buf))
	return buf.String()
}

func TestStudentPageDraftForm(t *testing.T) {
	ctx := model.ContextWithBasePath(context.Background(), "/es")
	ctx = model.ContextWithCSRFToken(ctx, "tok")
	page := render(t, ctx, StudentPage(StudentData{
		Rubric:   model.Rubric{Label: "Unit 4", Groups: []string{"2A", "2B"}, MaxStudents: 3},
		Record:   model.SubmissionRecord{Phase: model.PhaseDrafting},
		Group:    "2B",
		Students: []string{"Ana"},
	}))

	assert.Contains(t, page, `action="/es/feedback"`)
	assert.Contains(t, page, `name="csrf_token" value="tok"`)
	assert.Contains(t, page, `<option value="2A">2A</option>`)
	assert.Contains(t, page, `<option value="2B" selected>2B</option>`)
	assert.Equal(t, 3, strings.Count(page, `name="student"`))
	assert.Contains(t, page, `id="student1" value="Ana" required>`)
	assert.Contains(t, page, `id="student2" value="">`)
	assert.NotContains(t, page, "<nav>")
}

func TestStudentPageEscapesEssayNotFeedback(t *testing.T) {
	page := render(t, context.Background(), StudentPage(StudentData{
		Record: model.SubmissionRecord{
			Phase:    model.PhaseAwaitingRevision,
			Identity: model.NewIdentity("2C", "Jane <Doe>"),
			Mark:     model.Mark{Value: "7/10", Found: true},
		},
		Essay:        "Phones <b>distract</b>",
		FeedbackHTML: "<p><em>Good</em> start.</p>",
	}))

	assert.Contains(t, page, "<strong>2C</strong> Jane &lt;Doe&gt;")
	assert.Contains(t, page, "Mark: 7/10")
	assert.Contains(t, page, "<p><em>Good</em> start.</p>")
	assert.Contains(t, page, "Phones &lt;b&gt;distract&lt;/b&gt;</textarea>")
	assert.Contains(t, page, `action="/revision"`)
	assert.NotContains(t, page, `action="/feedback"`)
}

func TestAdminUsersPageNav(t *testing.T) {
	users := []model.User{{ID: 7, Username: "lee", DisplayName: "Ms Lee", Role: model.UserRoleTeacher, Active: true}}

	admin := model.ContextWithUser(context.Background(), &model.User{Username: "root", Role: model.UserRoleAdmin})
	page := render(t, admin, AdminUsersPage(users, ""))
	assert.Contains(t, page, `href="/admin/users"`)
	assert.Contains(t, page, `action="/admin/users/7/toggle"`)
	assert.Contains(t, page, "<td>Ms Lee</td>")
	assert.NotContains(t, page, `role="alert"`)

	teacher := model.ContextWithUser(context.Background(), &model.User{Username: "lee", Role: model.UserRoleTeacher})
	page = render(t, teacher, AdminUsersPage(nil, "name taken"))
	assert.Contains(t, page, `href="/admin/submissions"`)
	assert.NotContains(t, page, `href="/admin/users"`)
	assert.Contains(t, page, `<p class="error" role="alert">name taken</p>`)
}
