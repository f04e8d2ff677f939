package notify

import (
	"strconv"
	"sync"
)

const badgeColor = "#dc3545"

// Badge is the visible high-risk counter artifact. The rendered text is
// capped ("99+" beyond the cap) and cleared entirely when the count is zero.
type Badge struct {
	mu    sync.RWMutex
	cap   int
	count int
}

// NewBadge creates a badge with the given display cap.
func NewBadge(cap int) *Badge {
	return &Badge{cap: cap}
}

// Update sets the badge from the current high-risk count.
func (b *Badge) Update(highRisk int) {
	b.mu.Lock()
	b.count = highRisk
	b.mu.Unlock()
}

// Text returns the rendered badge text, empty when nothing is high-risk.
func (b *Badge) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch {
	case b.count <= 0:
		return ""
	case b.count > b.cap:
		return strconv.Itoa(b.cap) + "+"
	default:
		return strconv.Itoa(b.count)
	}
}

// Color returns the badge background color, empty when the badge is cleared.
func (b *Badge) Color() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count <= 0 {
		return ""
	}
	return badgeColor
}
