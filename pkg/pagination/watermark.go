package pagination

import (
	"math"
	"sync/atomic"
)

// LowWaterMark is the lowest page number known to hold no data, shared by
// every lane of one scan. It only ever moves down.
type LowWaterMark struct {
	page atomic.Int64
}

// NewLowWaterMark returns a mark that covers no page.
func NewLowWaterMark() *LowWaterMark {
	m := &LowWaterMark{}
	m.page.Store(math.MaxInt64)
	return m
}

// Lower moves the mark to page if page is below it.
// Returns true if the mark changed.
func (m *LowWaterMark) Lower(page int) bool {
	p := int64(page)
	for {
		cur := m.page.Load()
		if p >= cur {
			return false
		}
		if m.page.CompareAndSwap(cur, p) {
			return true
		}
	}
}

// Covers reports whether page is at or beyond the mark.
func (m *LowWaterMark) Covers(page int) bool {
	return int64(page) >= m.page.Load()
}

// Value returns the current mark, or false if no empty page has been seen.
func (m *LowWaterMark) Value() (int, bool) {
	p := m.page.Load()
	if p == math.MaxInt64 {
		return 0, false
	}
	return int(p), true
}
