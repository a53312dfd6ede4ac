// Package scanui draws a full-screen sector map while an integrity scan runs.
// It knows nothing about the engine; callers push lines and progress into it.
package scanui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// reserved is the number of rows kept free below the sector map for the
// status block.
const reserved = 7

// UI wraps a tcell screen with a fixed layout: title, summary, legend, sector
// map, status block.
type UI struct {
	mu       sync.Mutex
	s        tcell.Screen
	stopChan chan struct{}
	once     sync.Once
	done     chan struct{}

	title        string
	summaryLines []string
	legendLines  []string
	statusLines  []string
	mapLines     []string
}

// NewUI initialises the terminal and starts reading keys.
func NewUI() (*UI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return NewUIWithScreen(s)
}

// NewUIWithScreen is NewUI over a caller-supplied screen, such as a
// simulation screen in tests.
func NewUIWithScreen(s tcell.Screen) (*UI, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &UI{
		s:        s,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go u.eventLoop()
	return u, nil
}

// Close restores the terminal and waits for the key reader to exit.
func (u *UI) Close() {
	u.mu.Lock()
	s := u.s
	u.s = nil
	u.mu.Unlock()
	if s == nil {
		return
	}
	u.once.Do(func() { close(u.stopChan) })
	s.Fini()
	<-u.done
}

// RequestStop marks the UI stopped. Safe to call repeatedly.
func (u *UI) RequestStop() {
	u.once.Do(func() {
		close(u.stopChan)
		u.mu.Lock()
		if u.s != nil {
			u.s.PostEvent(tcell.NewEventInterrupt(nil))
		}
		u.mu.Unlock()
	})
}

// Stopped is closed when the user asks to stop (q, Esc, Ctrl+C).
func (u *UI) Stopped() <-chan struct{} { return u.stopChan }

func (u *UI) IsStopped() bool {
	select {
	case <-u.stopChan:
		return true
	default:
		return false
	}
}

// Size returns the screen size, or zeros once closed.
func (u *UI) Size() (width, height int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return 0, 0
	}
	return u.s.Size()
}

// MapRows is the number of rows available to the sector map.
func (u *UI) MapRows() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return 1
	}
	_, h := u.s.Size()
	rows := h - reserved - 1 - len(u.summaryLines) - len(u.legendLines)
	return max(rows, 1)
}

func putStr(s tcell.Screen, x, y int, str string, style tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		if x+i >= w {
			break
		}
		s.SetContent(x+i, y, r, nil, style)
	}
}

func glyphStyle(r rune) tcell.Style {
	switch r {
	case glyphCorrupt:
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	case glyphRepaired:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	}
	return tcell.StyleDefault
}

// Draw redraws the whole screen from the current lines.
func (u *UI) Draw() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return
	}
	s := u.s
	s.Clear()
	w, h := s.Size()
	y := 0

	if u.title != "" {
		putStr(s, 0, y, strings.Repeat("═", w), tcell.StyleDefault)
		putStr(s, max((w-len([]rune(u.title)))/2, 0), y, u.title, tcell.StyleDefault.Bold(true))
		y++
	}
	for _, lines := range [][]string{u.summaryLines, u.legendLines} {
		for _, line := range lines {
			if y >= h {
				break
			}
			putStr(s, 0, y, line, tcell.StyleDefault)
			y++
		}
	}

	rows := min(max(h-y-reserved, 1), len(u.mapLines))
	for i := 0; i < rows && y < h; i++ {
		xs := 0
		for _, r := range u.mapLines[i] {
			if xs >= w {
				break
			}
			s.SetContent(xs, y, r, nil, glyphStyle(r))
			xs++
		}
		y++
	}

	if len(u.statusLines) > 0 && y < h {
		putStr(s, 0, y, strings.Repeat("─", w), tcell.StyleDefault)
		putStr(s, 2, y, " Status ", tcell.StyleDefault)
		y++
		for _, line := range u.statusLines {
			if y >= h {
				break
			}
			putStr(s, 0, y, line, tcell.StyleDefault)
			y++
		}
	}
	s.Show()
}

func (u *UI) SetTitle(t string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.title = t
}

func (u *UI) SetSummaryLines(lines []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.summaryLines = append([]string(nil), lines...)
}

func (u *UI) SetLegend(lines []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.legendLines = append([]string(nil), lines...)
}

func (u *UI) SetStatusLines(lines []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statusLines = append([]string(nil), lines...)
}

// SetMap sets the sector map rows. The UI renders them as given.
func (u *UI) SetMap(lines []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mapLines = append([]string(nil), lines...)
}

func (u *UI) eventLoop() {
	defer close(u.done)
	u.mu.Lock()
	s := u.s
	u.mu.Unlock()
	for {
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC, ev.Key() == tcell.KeyEscape:
				u.RequestStop()
			case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				u.RequestStop()
			}
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt:
			// Stop requested; keep reading until Fini so Close can join.
		case nil:
			return
		}
	}
}

// Legend returns the legend line for the sector map glyphs.
func Legend() string {
	return fmt.Sprintf("%c pending   %c checked   %c corrupted   %c repaired   (q/Esc to stop)",
		glyphPending, glyphChecked, glyphCorrupt, glyphRepaired)
}
