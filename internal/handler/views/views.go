// Package views renders the HTML pages as templ components. The _templ.go
// files are generated from the .templ sources and committed.
package views

//go:generate templ generate

import (
	"context"
	"strconv"

	"github.com/a-h/templ"

	"github.com/pavelanni/essaygrader/internal/diff"
	"github.com/pavelanni/essaygrader/internal/model"
)

// StudentData is everything the essay page shows for one record.
type StudentData struct {
	Rubric model.Rubric
	Record model.SubmissionRecord
	// Form values echoed back after a failed submit.
	Group    string
	Students []string
	Essay    string
	Error    string
	// Rendered markdown, already sanitised.
	FeedbackHTML string
	RevisionHTML string
	Changes      diff.Summary
}

var roles = []model.UserRole{model.UserRoleTeacher, model.UserRoleAdmin}

// link prefixes path with the mount point of the current request.
func link(ctx context.Context, path string) templ.SafeURL {
	return templ.URL(model.BasePathFromContext(ctx) + path)
}

func toggleURL(ctx context.Context, id int64) templ.SafeURL {
	return link(ctx, "/admin/users/"+strconv.FormatInt(id, 10)+"/toggle")
}

func studentID(i int) string { return "student" + strconv.Itoa(i+1) }

func studentValue(students []string, i int) string {
	if i < len(students) {
		return students[i]
	}
	return ""
}

func maxStudents(r model.Rubric) int {
	if r.MaxStudents <= 0 {
		return 1
	}
	return r.MaxStudents
}

const styleTag = `<style>
body{font-family:system-ui,sans-serif;max-width:52rem;margin:0 auto;padding:1rem 1.5rem;line-height:1.5;color:#1d2430}
header{display:flex;justify-content:space-between;align-items:center;border-bottom:1px solid #d6dbe3;margin-bottom:1rem}
header nav a,header nav button{margin-left:1rem}
label{display:block;font-weight:600;margin-top:.75rem}
input[type=text],input[type=password],select,textarea{width:100%;padding:.4rem;font:inherit;box-sizing:border-box}
textarea{min-height:18rem}
button{margin-top:1rem;padding:.5rem 1.2rem;font:inherit;cursor:pointer}
.error{background:#fdecea;border:1px solid #f5c2bd;padding:.6rem .8rem;border-radius:4px}
.warning{background:#fff6dd;border:1px solid #f1dc9c;padding:.6rem .8rem;border-radius:4px}
.feedback{background:#f5f7fa;border:1px solid #d6dbe3;padding:.4rem 1rem;border-radius:4px}
.mark{font-size:1.4rem;font-weight:700}
.muted{color:#6b7280;font-size:.9rem}
table{border-collapse:collapse;width:100%}
th,td{border-bottom:1px solid #e5e7eb;padding:.35rem;text-align:left;vertical-align:top}
form.inline{display:inline}
</style>`
