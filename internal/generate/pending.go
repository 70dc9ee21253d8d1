package generate

import (
	"errors"
	"sync"

	"briefline/internal/domain"
)

// ErrGenerationPending is returned when a run for the same parent and level
// is already in flight.
var ErrGenerationPending = errors.New("generation already pending for this parent")

type pendingKey struct {
	parentID string
	level    domain.Level
}

// Pending tracks in-flight runs. The zero value is ready to use.
type Pending struct {
	mu     sync.Mutex
	active map[pendingKey]struct{}
}

// TryAcquire marks (parentID, level) busy. The returned release must be
// called exactly once; it is a no-op after the first call.
func (p *Pending) TryAcquire(parentID string, level domain.Level) (func(), bool) {
	key := pendingKey{parentID: parentID, level: level}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		p.active = map[pendingKey]struct{}{}
	}
	if _, busy := p.active[key]; busy {
		return nil, false
	}
	p.active[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.active, key)
			p.mu.Unlock()
		})
	}, true
}

// Active reports whether a run for (parentID, level) is in flight.
func (p *Pending) Active(parentID string, level domain.Level) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.active[pendingKey{parentID: parentID, level: level}]
	return busy
}
