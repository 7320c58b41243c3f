package replication

import (
	"maps"
	"slices"
)

// DefaultWindow is the default number of ticks of state kept as possible
// delta baselines.
const DefaultWindow = 32

// History keeps the states of the most recent ticks, a sliding window of
// window ticks ending at the newest stored tick. States older than the
// window are discarded and can no longer serve as baselines.
// Not safe for concurrent use.
type History struct {
	window  uint32
	entries map[uint32]*State
	newest  uint32
	started bool
}

// NewHistory creates a history spanning window ticks.
func NewHistory(window int) *History {
	if window <= 0 {
		window = DefaultWindow
	}
	return &History{
		window:  uint32(window),
		entries: make(map[uint32]*State, window),
	}
}

// Add stores s. It reports false if s is already older than the window.
func (h *History) Add(s *State) bool {
	if h.started && !h.inWindow(s.Tick) {
		return false
	}
	h.entries[s.Tick] = s
	if !h.started || s.Tick > h.newest {
		h.newest = s.Tick
		h.started = true
		for t := range h.entries {
			if !h.inWindow(t) {
				delete(h.entries, t)
			}
		}
	}
	return true
}

func (h *History) inWindow(tick uint32) bool {
	return tick > h.newest || h.newest-tick < h.window
}

// Get returns the state stored for tick.
func (h *History) Get(tick uint32) (*State, bool) {
	s, ok := h.entries[tick]
	return s, ok
}

// Has reports whether tick can be used as a baseline.
func (h *History) Has(tick uint32) bool {
	_, ok := h.entries[tick]
	return ok
}

// Newest returns the newest stored tick.
func (h *History) Newest() (uint32, bool) {
	return h.newest, h.started
}

// Ticks returns the stored ticks in ascending order.
func (h *History) Ticks() []uint32 {
	return slices.Sorted(maps.Keys(h.entries))
}

// Len returns the number of stored states.
func (h *History) Len() int {
	return len(h.entries)
}

// Clear removes every state.
func (h *History) Clear() {
	clear(h.entries)
	h.newest = 0
	h.started = false
}
