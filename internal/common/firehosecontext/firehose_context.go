package firehosecontext

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Context carries a contextual logger alongside a standard context so that the logger follows the request through
// every function that takes a context.
type Context struct {
	context.Context
	Log *logrus.Entry
}

// Background is context.Background() paired with the standard logger
func Background() *Context {
	return New(context.Background(), logrus.NewEntry(logrus.StandardLogger()))
}

func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{
		Context: ctx,
		Log:     log,
	}
}

// WithCancel is context.WithCancel keeping parent's logger
func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	c, cancel := context.WithCancel(parent.Context)
	return New(c, parent.Log), cancel
}

// WithTimeout is context.WithTimeout keeping parent's logger
func WithTimeout(parent *Context, timeout time.Duration) (*Context, context.CancelFunc) {
	c, cancel := context.WithTimeout(parent.Context, timeout)
	return New(c, parent.Log), cancel
}

// WithoutCancel returns a context that outlives parent's cancellation but keeps its values and logger.
func WithoutCancel(parent *Context) *Context {
	return New(context.WithoutCancel(parent.Context), parent.Log)
}

func WithLogField(parent *Context, key string, val interface{}) *Context {
	return New(parent.Context, parent.Log.WithField(key, val))
}

func WithLogFields(parent *Context, fields logrus.Fields) *Context {
	return New(parent.Context, parent.Log.WithFields(fields))
}

// ErrGroup is errgroup.WithContext for a firehose context.  The group's context keeps ctx's logger.
func ErrGroup(ctx *Context) (*errgroup.Group, *Context) {
	group, goctx := errgroup.WithContext(ctx)
	return group, New(goctx, ctx.Log)
}
