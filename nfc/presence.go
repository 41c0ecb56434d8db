package nfc

import (
	"sort"
	"sync"
	"time"
)

// DefaultRemovalTimeout is how long a tag must be absent before it counts as removed.
const DefaultRemovalTimeout = 750 * time.Millisecond

// PresenceTracker debounces tag detections. A UID is reported once when it enters the
// field and again only after it has been absent for the removal timeout.
type PresenceTracker struct {
	clock    Clock
	timeout  time.Duration
	lastSeen map[string]time.Time
	lastUID  string
	mu       sync.Mutex
}

// NewPresenceTracker creates a tracker. A non-positive timeout uses DefaultRemovalTimeout.
func NewPresenceTracker(clock Clock, removalTimeout time.Duration) *PresenceTracker {
	if clock == nil {
		clock = NewRealClock()
	}
	if removalTimeout <= 0 {
		removalTimeout = DefaultRemovalTimeout
	}
	return &PresenceTracker{
		clock:    clock,
		timeout:  removalTimeout,
		lastSeen: make(map[string]time.Time),
	}
}

// Observe records the UIDs found by one poll and returns those that just arrived.
// Tags without a UID are always reported; they cannot be told apart.
func (p *PresenceTracker) Observe(tags []Tag) []Tag {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	var arrived []Tag
	for _, tag := range tags {
		uid := tag.UID()
		if uid == "" {
			arrived = append(arrived, tag)
			continue
		}
		if _, present := p.lastSeen[uid]; !present {
			arrived = append(arrived, tag)
			p.lastUID = uid
		}
		p.lastSeen[uid] = now
	}
	return arrived
}

// Sweep forgets tags absent for at least the removal timeout and returns their UIDs.
func (p *PresenceTracker) Sweep() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	var removed []string
	for uid, seen := range p.lastSeen {
		if now.Sub(seen) >= p.timeout {
			delete(p.lastSeen, uid)
			removed = append(removed, uid)
		}
	}
	sort.Strings(removed)
	if _, ok := p.lastSeen[p.lastUID]; !ok {
		p.lastUID = ""
	}
	return removed
}

// Forget drops a UID immediately, as when a reader reports the tag has left.
func (p *PresenceTracker) Forget(uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.lastSeen, uid)
	if p.lastUID == uid {
		p.lastUID = ""
	}
}

// Present returns true if any tag is in the field.
func (p *PresenceTracker) Present() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lastSeen) > 0
}

// LastUID returns the UID of the most recently arrived tag still present.
func (p *PresenceTracker) LastUID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUID
}

// Clear forgets every tag.
func (p *PresenceTracker) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastSeen = make(map[string]time.Time)
	p.lastUID = ""
}
