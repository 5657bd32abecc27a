package model

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/aidetect-api/internal/inference"
)

// Loader lazily opens the process-wide Session. Concurrent first callers
// share a single Open; once stored the Session is only read. A failed Open
// is not cached, so a later call may retry.
type Loader struct {
	open  func() (*Session, error)
	group singleflight.Group
	sess  atomic.Pointer[Session]
}

func NewLoader(opts Options) *Loader {
	return &Loader{open: func() (*Session, error) { return Open(opts) }}
}

func (l *Loader) Session(ctx context.Context) (*Session, error) {
	if s := l.sess.Load(); s != nil {
		return s, nil
	}

	ch := l.group.DoChan("session", func() (any, error) {
		if s := l.sess.Load(); s != nil {
			return s, nil
		}
		s, err := l.open()
		if err != nil {
			return nil, err
		}
		l.sess.Store(s)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

// Model satisfies pipeline.ModelProvider.
func (l *Loader) Model(ctx context.Context) (inference.Model, error) {
	s, err := l.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Loader) Loaded() bool {
	return l.sess.Load() != nil
}

func (l *Loader) Close() {
	if s := l.sess.Swap(nil); s != nil {
		s.Close()
	}
}
