package scanui

import (
	"strings"
	"sync"
)

const (
	glyphPending  = '░'
	glyphChecked  = '█'
	glyphCorrupt  = 'X'
	glyphRepaired = '+'
)

// maxChunks bounds the completion counters kept per map.
const maxChunks = 1 << 16

// SectorMap tracks scan progress over a sector range and renders it as rows of
// glyphs, one cell per bucket of sectors. Completion is counted per chunk of
// the range, so sectors may be checked in any order.
type SectorMap struct {
	mu    sync.Mutex
	start uint64
	total uint64
	chunk uint64          // sectors per chunk
	done  []uint64        // checked sectors per chunk
	bad   map[uint64]bool // sector -> repaired
}

func NewSectorMap(start, total uint64) *SectorMap {
	m := &SectorMap{start: start, total: total, chunk: 1, bad: make(map[uint64]bool)}
	if total > 0 {
		n := min(total, maxChunks)
		m.chunk = (total + n - 1) / n
		m.done = make([]uint64, (total+m.chunk-1)/m.chunk)
	}
	return m
}

func (m *SectorMap) chunkLen(c uint64) uint64 {
	return min((c+1)*m.chunk, m.total) - c*m.chunk
}

// MarkChecked records that sector has been read and hashed. Sectors outside
// the range are ignored.
func (m *SectorMap) MarkChecked(sector uint64) {
	if sector < m.start || sector-m.start >= m.total {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := (sector - m.start) / m.chunk
	if m.done[c] < m.chunkLen(c) {
		m.done[c]++
	}
}

// complete reports whether every chunk overlapping [lo, hi) is fully checked.
func (m *SectorMap) complete(lo, hi uint64) bool {
	for c := lo / m.chunk; c <= (hi-1)/m.chunk; c++ {
		if m.done[c] < m.chunkLen(c) {
			return false
		}
	}
	return true
}

func (m *SectorMap) MarkCorrupted(sector uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bad[sector]; !ok {
		m.bad[sector] = false
	}
}

func (m *SectorMap) MarkRepaired(sector uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bad[sector] = true
}

// Counts returns the corrupted and repaired totals.
func (m *SectorMap) Counts() (corrupted, repaired int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ok := range m.bad {
		corrupted++
		if ok {
			repaired++
		}
	}
	return corrupted, repaired
}

// Render lays the range out over at most width*rows cells.
func (m *SectorMap) Render(width, rows int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.total == 0 || width <= 0 || rows <= 0 {
		return nil
	}
	cells := uint64(width * rows)
	bucket := (m.total + cells - 1) / cells
	used := (m.total + bucket - 1) / bucket

	// 0 none, 1 all repaired, 2 unrepaired present
	state := make([]uint8, used)
	for s, repaired := range m.bad {
		if s < m.start || s >= m.start+m.total {
			continue
		}
		i := (s - m.start) / bucket
		switch {
		case !repaired:
			state[i] = 2
		case state[i] == 0:
			state[i] = 1
		}
	}

	lines := make([]string, 0, (used+uint64(width)-1)/uint64(width))
	var b strings.Builder
	for i := uint64(0); i < used; i++ {
		end := min((i+1)*bucket, m.total)
		g := glyphPending
		switch {
		case state[i] == 2:
			g = glyphCorrupt
		case state[i] == 1:
			g = glyphRepaired
		case m.complete(i*bucket, end):
			g = glyphChecked
		}
		b.WriteRune(g)
		if (i+1)%uint64(width) == 0 {
			lines = append(lines, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		lines = append(lines, b.String())
	}
	return lines
}
