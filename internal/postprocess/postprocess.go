// Package postprocess defines the two external collaborators named in the
// engine's scope but not implemented beyond a minimal interface: a
// Summarizer that turns a week's messages for a dialog into a report, and
// a TaskTracker that files a task against an external tracker. Only
// TaskTracker gets a concrete implementation (resty-backed, posting to a
// configurable webhook); it does not read or write the Message Store's
// analysis log. Summarizer stays an interface per spec.md's
// explicit non-goal on LLM integration.
package postprocess

import (
	"context"

	"chatarchiver/internal/store"
)

// Summarizer produces a natural-language report for one dialog's
// messages within a week bucket. No concrete implementation ships with
// this engine; callers supply their own (an LLM client, a template
// renderer, etc).
type Summarizer interface {
	Summarize(ctx context.Context, dialogID int64, weekBucket string, messages []store.StoredMessage) (report string, err error)
}

// TaskTracker creates a task in an external tracker from a title/body
// pair, returning the tracker's task identifier.
type TaskTracker interface {
	CreateTask(ctx context.Context, title, body string) (taskID string, err error)
}
