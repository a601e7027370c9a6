package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"liqzones/pkg/errors"
)

const flushTimeout = 2 * time.Second

// Tracker reports errors to Sentry, tagging every event with the service symbol set
type Tracker struct {
	hub      *sentry.Hub
	baseTags map[string]string
}

// New creates a new Sentry tracker
func New(dsn, environment, release string, baseTags map[string]string) (*Tracker, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to init sentry")
	}

	return &Tracker{
		hub:      sentry.CurrentHub(),
		baseTags: baseTags,
	}, nil
}

// CaptureError sends an error to Sentry
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	if err == nil {
		return nil
	}
	hub := t.scoped(tags, sentry.LevelError)
	hub.CaptureException(err)
	return nil
}

// CaptureMessage sends a message to Sentry
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	hub := t.scoped(tags, convertLevel(level))
	hub.CaptureMessage(message)
	return nil
}

// Flush waits for pending events to be sent
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !sentry.Flush(timeout) {
		return errors.Wrap(errors.ErrTimeout, "sentry flush")
	}
	return nil
}

func (t *Tracker) scoped(tags map[string]string, level sentry.Level) *sentry.Hub {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range t.baseTags {
			scope.SetTag(k, v)
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetLevel(level)
	})
	return hub
}

func convertLevel(level errors.Level) sentry.Level {
	switch level {
	case errors.LevelInfo:
		return sentry.LevelInfo
	case errors.LevelWarning:
		return sentry.LevelWarning
	case errors.LevelError:
		return sentry.LevelError
	case errors.LevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}
