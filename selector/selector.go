// Package selector decides which variant a worker attempts on a tick.
package selector

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"ticket-reservation-bot/ticketapi"
)

// FilterPolicy decides which variants are eligible for selection.
type FilterPolicy string

const (
	// FilterActive keeps active variants with availability > 0.
	FilterActive FilterPolicy = "active"
	// FilterSaleStarted additionally requires the variant's sale start to
	// have passed.
	FilterSaleStarted FilterPolicy = "sale-started"
)

func ParseFilterPolicy(s string) (FilterPolicy, error) {
	switch p := FilterPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", FilterActive:
		return FilterActive, nil
	case FilterSaleStarted:
		return FilterSaleStarted, nil
	default:
		return "", fmt.Errorf("unknown variant filter %q", s)
	}
}

// Available returns the variants eligible under policy at now, in input order.
func Available(variants []ticketapi.Variant, policy FilterPolicy, now time.Time) []ticketapi.Variant {
	out := make([]ticketapi.Variant, 0, len(variants))
	for _, v := range variants {
		if !v.IsProductVariantActive || v.Availability <= 0 {
			continue
		}
		if policy == FilterSaleStarted && !v.OnSaleAt(now) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Source supplies the random index for fallback selection.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// DefaultSource draws from math/rand/v2's goroutine-safe global generator.
var DefaultSource Source = globalSource{}

type OutcomeKind int

const (
	NoMatch OutcomeKind = iota
	StrictSkip
	Selected
)

func (k OutcomeKind) String() string {
	switch k {
	case NoMatch:
		return "no_match"
	case StrictSkip:
		return "strict_skip"
	case Selected:
		return "selected"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind    OutcomeKind
	Variant ticketapi.Variant
	// Rank of the priority item that matched, 0 for a random pick.
	Rank int
}

// Select picks a variant from available. Priority items are scanned in rank
// order and the first item with a matching variant wins; later items are not
// considered. With no match, strict returns StrictSkip, otherwise a uniform
// random variant is picked.
func Select(available []ticketapi.Variant, items []PriorityItem, strict bool, src Source) Outcome {
	if len(available) == 0 {
		return Outcome{Kind: NoMatch}
	}

	if len(items) > 0 {
		ordered := make([]PriorityItem, len(items))
		copy(ordered, items)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })

		for _, item := range ordered {
			for _, v := range available {
				if item.Matches(v.Name) {
					return Outcome{Kind: Selected, Variant: v, Rank: item.Rank}
				}
			}
		}
		if strict {
			return Outcome{Kind: StrictSkip}
		}
	}

	if src == nil {
		src = DefaultSource
	}
	return Outcome{Kind: Selected, Variant: available[src.IntN(len(available))]}
}
