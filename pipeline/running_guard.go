package pipeline

import (
	"context"
	"sync"
)

// runningGuard lets one run per entity through at a time.
type runningGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock marks entity as running. It returns false when a run already holds it.
func (g *runningGuard) TryLock(entity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[entity]; ok {
		return false
	}
	g.running[entity] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock must follow a successful TryLock.
func (g *runningGuard) Unlock(entity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, entity)
	g.wg.Done()
}

// WaitAll blocks until in-flight runs finish or ctx is done.
func (g *runningGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
