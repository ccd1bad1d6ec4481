package realtime

import (
	"sort"
	"sync"
)

// Presence is the best-effort set of online users. It is never persisted.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// MarkOnline adds userID and reports whether the set changed.
func (p *Presence) MarkOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.online[userID]; ok {
		return false
	}
	p.online[userID] = struct{}{}
	return true
}

// MarkOffline removes userID and reports whether the set changed.
func (p *Presence) MarkOffline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.online[userID]; !ok {
		return false
	}
	delete(p.online, userID)
	return true
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// AllOnline returns a sorted snapshot of online users.
func (p *Presence) AllOnline() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
