package scanui

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Monitor feeds engine progress into a UI. Its methods match the engine's
// progress and mismatch callbacks.
type Monitor struct {
	ui         *UI
	m          *SectorMap
	op         string
	mode       string
	sectorSize int
	started    time.Time

	processed uint64
	total     uint64
}

// NewMonitor prepares the screen for a scan of total sectors from start.
func NewMonitor(ui *UI, op, device, mode string, start, total uint64, sectorSize int) *Monitor {
	ui.SetTitle(" sectorcrc ")
	ui.SetSummaryLines([]string{
		fmt.Sprintf("Device: %s   Sector size: %d   Range: %d..%d (%s)",
			device, sectorSize, start, start+total, humanize.IBytes(total*uint64(sectorSize))),
	})
	ui.SetLegend([]string{Legend()})
	mo := &Monitor{
		ui:         ui,
		m:          NewSectorMap(start, total),
		op:         op,
		mode:       mode,
		sectorSize: sectorSize,
		started:    time.Now(),
		total:      total,
	}
	mo.refresh()
	return mo
}

// Map exposes the underlying sector map.
func (mo *Monitor) Map() *SectorMap { return mo.m }

// Progress is an engine progress callback.
func (mo *Monitor) Progress(processed, total uint64) {
	mo.processed, mo.total = processed, total
	mo.refresh()
}

// Checked is an engine per-sector callback. The map is redrawn on the next
// Progress call.
func (mo *Monitor) Checked(sector uint64) {
	mo.m.MarkChecked(sector)
}

// Mismatch is an engine mismatch callback.
func (mo *Monitor) Mismatch(sector uint64) {
	mo.m.MarkCorrupted(sector)
}

// Finish marks repaired sectors and draws the final state.
func (mo *Monitor) Finish(repaired []uint64, status string) {
	for _, s := range repaired {
		mo.m.MarkRepaired(s)
	}
	mo.op = mo.op + " (" + status + ")"
	mo.refresh()
}

func (mo *Monitor) refresh() {
	w, _ := mo.ui.Size()
	if w > 0 {
		mo.ui.SetMap(mo.m.Render(w, mo.ui.MapRows()))
	}
	mo.ui.SetStatusLines(mo.statusLines())
	mo.ui.Draw()
}

func (mo *Monitor) statusLines() []string {
	elapsed := time.Since(mo.started).Truncate(time.Second)
	var rate float64
	if s := time.Since(mo.started).Seconds(); s > 0 {
		rate = float64(mo.processed*uint64(mo.sectorSize)) / s
	}
	eta := "--"
	if rate > 0 && mo.total > mo.processed {
		remain := float64((mo.total - mo.processed) * uint64(mo.sectorSize))
		eta = time.Duration(remain / rate * float64(time.Second)).Truncate(time.Second).String()
	}
	corrupted, repaired := mo.m.Counts()
	return []string{
		fmt.Sprintf("Checked: %d / %d sectors", mo.processed, mo.total),
		fmt.Sprintf("Corrupted: %d   Repaired: %d", corrupted, repaired),
		fmt.Sprintf("Elapsed: %s   Rate: %s/s   ETA: %s   Mode: %s", elapsed, humanize.IBytes(uint64(rate)), eta, mo.mode),
		"Current op: " + mo.op,
	}
}
