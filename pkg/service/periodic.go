package service

import (
	"context"
	"sync"
	"time"
)

// Periodic calls a function on every tick until shut down.
type Periodic struct {
	name  string
	every time.Duration
	fn    func()

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func NewPeriodic(name string, every time.Duration, fn func()) *Periodic {
	return &Periodic{name: name, every: every, fn: fn, done: make(chan struct{})}
}

func (p *Periodic) Run() {
	if p.every <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				p.fn()
			case <-p.done:
				return
			}
		}
	}()
}

func (p *Periodic) Shutdown(ctx context.Context) error {
	p.once.Do(func() { close(p.done) })
	stopped := make(chan struct{})
	go func() { p.wg.Wait(); close(stopped) }()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Periodic) String() string { return "periodic::" + p.name }
