// Package logging provides the structured logger shared by every agent,
// tool, and connector invocation. It generalizes the teacher's chat-model
// logging middleware (ai/providers/middlewares/logger) from a single
// request/response hook into a field-carrying logger usable anywhere in the
// orchestrator, backed by logrus rather than a hand-rolled interface.
package logging

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// New builds the root structured logger. Output is JSON so that log
// aggregation can key on thread_id / agent / round without scraping text.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// WithContext attaches a logger (already carrying thread_id/run fields) to
// ctx so downstream agents and tools can pull it out without threading an
// extra parameter through every call.
func WithContext(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the logger attached to ctx, or a disconnected
// no-field logger if none was attached.
func FromContext(ctx context.Context) *logrus.Entry {
	entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry)
	if ok && entry != nil {
		return entry
	}
	return logrus.NewEntry(New("info"))
}

// ForThread returns a new context carrying a logger scoped to thread_id,
// the minimum correlation key for every Run.
func ForThread(ctx context.Context, base *logrus.Logger, threadID string) context.Context {
	return WithContext(ctx, base.WithField("thread_id", threadID))
}

// ForAgent returns a context whose logger additionally carries the current
// agent name and round/sub-question coordinates, matching the fields the
// orchestrator needs to reconstruct a Run's trace from logs alone.
func ForAgent(ctx context.Context, agent string, round, subQuestionIndex int) context.Context {
	entry := FromContext(ctx).WithFields(logrus.Fields{
		"agent":              agent,
		"round":              round,
		"sub_question_index": subQuestionIndex,
	})
	return WithContext(ctx, entry)
}
