package selector

import (
	"errors"
	"strings"
	"sync"
)

// MaxPriorityItems caps the length of a PriorityList.
const MaxPriorityItems = 5

var (
	ErrPriorityLimit  = errors.New("priority list is full")
	ErrRankOutOfRange = errors.New("priority rank out of range")
)

// PriorityItem is a ranked, case-insensitive substring pattern matched
// against variant names. Rank 1 is tried first.
type PriorityItem struct {
	Rank  int    `json:"rank" yaml:"rank"`
	Match string `json:"match" yaml:"match"`
}

// Matches reports whether name contains the item's text, ignoring case.
func (p PriorityItem) Matches(name string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(p.Match))
}

// PriorityList keeps ranks contiguous: every mutation renumbers items 1..k
// from their list position.
type PriorityList struct {
	mu    sync.RWMutex
	items []PriorityItem
}

// NewPriorityList builds a list from match texts in rank order. Entries past
// MaxPriorityItems are dropped.
func NewPriorityList(matches ...string) *PriorityList {
	pl := &PriorityList{}
	for _, m := range matches {
		if len(pl.items) == MaxPriorityItems {
			break
		}
		pl.items = append(pl.items, PriorityItem{Match: m})
	}
	pl.renumber()
	return pl
}

// Add appends an item at the lowest rank and returns that rank.
func (pl *PriorityList) Add(match string) (int, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if len(pl.items) >= MaxPriorityItems {
		return 0, ErrPriorityLimit
	}
	pl.items = append(pl.items, PriorityItem{Match: match})
	pl.renumber()
	return len(pl.items), nil
}

// Set replaces the match text at rank.
func (pl *PriorityList) Set(rank int, match string) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	i, ok := pl.index(rank)
	if !ok {
		return ErrRankOutOfRange
	}
	pl.items[i].Match = match
	return nil
}

// Remove deletes the item at rank.
func (pl *PriorityList) Remove(rank int) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	i, ok := pl.index(rank)
	if !ok {
		return false
	}
	pl.items = append(pl.items[:i], pl.items[i+1:]...)
	pl.renumber()
	return true
}

// MoveUp swaps the item at rank with the one above it. Rank 1 stays put.
func (pl *PriorityList) MoveUp(rank int) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	i, ok := pl.index(rank)
	if !ok || i == 0 {
		return false
	}
	pl.items[i-1], pl.items[i] = pl.items[i], pl.items[i-1]
	pl.renumber()
	return true
}

// MoveDown swaps the item at rank with the one below it.
func (pl *PriorityList) MoveDown(rank int) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	i, ok := pl.index(rank)
	if !ok || i == len(pl.items)-1 {
		return false
	}
	pl.items[i+1], pl.items[i] = pl.items[i], pl.items[i+1]
	pl.renumber()
	return true
}

// Prune drops items with blank match text and returns how many were removed.
func (pl *PriorityList) Prune() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	kept := pl.items[:0]
	for _, it := range pl.items {
		if strings.TrimSpace(it.Match) != "" {
			kept = append(kept, it)
		}
	}
	removed := len(pl.items) - len(kept)
	pl.items = kept
	pl.renumber()
	return removed
}

// Replace swaps the whole list for matches, keeping at most MaxPriorityItems.
func (pl *PriorityList) Replace(matches []string) error {
	if len(matches) > MaxPriorityItems {
		return ErrPriorityLimit
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pl.items = make([]PriorityItem, 0, len(matches))
	for _, m := range matches {
		pl.items = append(pl.items, PriorityItem{Match: m})
	}
	pl.renumber()
	return nil
}

// Items returns a copy of the list in rank order.
func (pl *PriorityList) Items() []PriorityItem {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	out := make([]PriorityItem, len(pl.items))
	copy(out, pl.items)
	return out
}

func (pl *PriorityList) Len() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.items)
}

func (pl *PriorityList) index(rank int) (int, bool) {
	if rank < 1 || rank > len(pl.items) {
		return 0, false
	}
	return rank - 1, true
}

func (pl *PriorityList) renumber() {
	for i := range pl.items {
		pl.items[i].Rank = i + 1
	}
}
