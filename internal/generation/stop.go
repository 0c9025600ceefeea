package generation

import "strings"

// stopMatcher finds stop sequences across chunk boundaries. Text that could
// still be the start of a stop sequence is held back.
type stopMatcher struct {
	stops   []string
	pending string
}

func newStopMatcher(stops []string) *stopMatcher {
	m := &stopMatcher{}
	seen := map[string]bool{}
	for _, s := range stops {
		if s != "" && !seen[s] {
			seen[s] = true
			m.stops = append(m.stops, s)
		}
	}
	return m
}

// Push adds text and returns what may be emitted. matched reports that a
// stop sequence was found; emit then holds the text before it and the
// matcher must not be used again.
func (m *stopMatcher) Push(text string) (emit string, matched bool) {
	m.pending += text
	cut := -1
	for _, s := range m.stops {
		if i := strings.Index(m.pending, s); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		emit = m.pending[:cut]
		m.pending = ""
		return emit, true
	}
	hold := 0
	for _, s := range m.stops {
		if n := overlap(m.pending, s); n > hold {
			hold = n
		}
	}
	emit = m.pending[:len(m.pending)-hold]
	m.pending = m.pending[len(m.pending)-hold:]
	return emit, false
}

// Flush returns held text.
func (m *stopMatcher) Flush() string {
	out := m.pending
	m.pending = ""
	return out
}

// overlap is the length of the longest suffix of s that is a proper prefix
// of stop.
func overlap(s, stop string) int {
	for n := min(len(s), len(stop)-1); n > 0; n-- {
		if strings.HasSuffix(s, stop[:n]) {
			return n
		}
	}
	return 0
}
