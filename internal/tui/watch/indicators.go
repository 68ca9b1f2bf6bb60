package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames on every clock tick; a frozen ticker means the
// TUI itself has stalled.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

const spinnerDots = 5

// Spinner lights up on events and fades over ten seconds.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnEvent(now time.Time) {
	s.dots = spinnerDots
	s.lastEvent = now
}

// Decay drops one dot for every two seconds of silence.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	lit := spinnerDots - int(now.Sub(s.lastEvent)/(2*time.Second))
	s.dots = max(0, min(s.dots, lit))
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := 0; i < spinnerDots; i++ {
		if i < s.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
