package xcp

import (
	"context"
	"sync"
)

// LazyLink builds its link on the first Open and drops it again on Close,
// so bus parameters from a reloaded descriptor apply to the next session.
type LazyLink struct {
	build func() (Link, error)

	mu   sync.Mutex
	link Link
}

func NewLazyLink(build func() (Link, error)) *LazyLink {
	return &LazyLink{build: build}
}

func (l *LazyLink) current() Link {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.link
}

func (l *LazyLink) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.link == nil {
		link, err := l.build()
		if err != nil {
			l.mu.Unlock()
			return err
		}
		l.link = link
	}
	link := l.link
	l.mu.Unlock()

	return link.Open(ctx)
}

func (l *LazyLink) Close() error {
	l.mu.Lock()
	link := l.link
	l.link = nil
	l.mu.Unlock()

	if link == nil {
		return nil
	}
	return link.Close()
}

func (l *LazyLink) Send(ctx context.Context, packet []byte) error {
	link := l.current()
	if link == nil {
		return ErrNotConnected
	}
	return link.Send(ctx, packet)
}

func (l *LazyLink) Receive(ctx context.Context) ([]byte, error) {
	link := l.current()
	if link == nil {
		return nil, ErrNotConnected
	}
	return link.Receive(ctx)
}
