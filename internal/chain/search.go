// Package chain finds the best chain of links ending at the anchor
// participant and derives the advice that is published alongside it.
//
// Chains are stored anchor-first: chain[0] is the anchor and chain[i+1] is a
// participant whose profile links to chain[i]. Rendering reverses the order.
package chain

import (
	"context"
	"slices"
	"time"

	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/links"
)

// Chain is an anchor-first sequence of participant ids without repeats.
type Chain []string

// Last returns the participant furthest from the anchor.
func (c Chain) Last() string {
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1]
}

// Contains reports whether id is part of the chain.
func (c Chain) Contains(id string) bool {
	return slices.Contains(c, id)
}

// Directory is the view of the participant registry the search needs.
type Directory interface {
	// Active reports whether id is a known, enabled participant.
	Active(id string) bool
	// JoinedAt returns when id first entered the best chain.
	JoinedAt(id string) (time.Time, bool)
	// DisplayName renders id for humans.
	DisplayName(id string) string
}

// Budget bounds a search. Zero values mean unlimited.
type Budget struct {
	MaxExpansions int
	Timeout       time.Duration
}

// Result is the outcome of a search.
type Result struct {
	Best      Chain
	Branches  []Chain
	BestValid bool
	Valid     int
	Broken    int
	Stats     Stats
}

// Stats describes the work done by a search.
type Stats struct {
	Expansions int
	Chains     int
	Duration   time.Duration
}

// Search enumerates every maximal chain ending at anchor and selects the
// best one. Neighbors that the directory does not know, or that are
// disabled, are skipped. The anchor itself is always accepted.
func Search(ctx context.Context, m *links.Matrix, dir Directory, anchor string, budget Budget) (*Result, error) {
	if anchor == "" {
		return nil, cwerrors.NewError(cwerrors.AnchorMissing, "no anchor participant configured", nil, nil)
	}
	if budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget.Timeout)
		defer cancel()
	}

	start := time.Now()
	chains, expansions, err := enumerate(ctx, m, dir, anchor, budget.MaxExpansions)
	if err != nil {
		return nil, err
	}

	bestIdx := selectBest(chains, m, dir)
	best := chains[bestIdx]
	branches := make([]Chain, 0, len(chains)-1)
	for i, c := range chains {
		if i != bestIdx {
			branches = append(branches, c)
		}
	}

	valid, broken := Tally(best, m)
	return &Result{
		Best:      best,
		Branches:  branches,
		BestValid: m.AllEqual(best, links.Real),
		Valid:     valid,
		Broken:    broken,
		Stats: Stats{
			Expansions: expansions,
			Chains:     len(chains),
			Duration:   time.Since(start),
		},
	}, nil
}

// enumerate runs the iterative depth-first walk backwards along incoming
// edges. Every returned chain is maximal: its last element has no eligible
// incoming neighbor outside the chain.
func enumerate(ctx context.Context, m *links.Matrix, dir Directory, anchor string, maxExpansions int) ([]Chain, int, error) {
	stack := []Chain{{anchor}}
	var chains []Chain
	expansions := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, expansions, cwerrors.NewError(cwerrors.BudgetExceeded, "chain search interrupted", err, nil)
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		expansions++
		if maxExpansions > 0 && expansions > maxExpansions {
			return nil, expansions, cwerrors.NewError(cwerrors.BudgetExceeded, "chain search exceeded its expansion budget", nil,
				map[string]any{"maxExpansions": maxExpansions, "pending": len(stack)})
		}

		last := current.Last()
		deadEnd := true
		for candidate := range m.Incoming(last, links.Present) {
			if current.Contains(candidate) || !dir.Active(candidate) {
				continue
			}
			next := make(Chain, len(current)+1)
			copy(next, current)
			next[len(current)] = candidate
			stack = append(stack, next)
			deadEnd = false
		}
		if deadEnd {
			chains = append(chains, current)
		}
	}
	return chains, expansions, nil
}

// Tally counts Real and Stale links along a chain.
func Tally(c Chain, m *links.Matrix) (valid, broken int) {
	for i := 1; i < len(c); i++ {
		switch m.Get(c[i], c[i-1]) {
		case links.Real:
			valid++
		case links.Stale:
			broken++
		}
	}
	return valid, broken
}

// selectBest runs the left-to-right tournament and returns the winner's
// index. On a complete tie the earlier chain stays.
func selectBest(chains []Chain, m *links.Matrix, dir Directory) int {
	best := 0
	bestValid, bestBroken := Tally(chains[0], m)
	for i := 1; i < len(chains); i++ {
		valid, broken := Tally(chains[i], m)
		if beats(chains[i], valid, broken, chains[best], bestValid, bestBroken, dir) {
			best, bestValid, bestBroken = i, valid, broken
		}
	}
	return best
}

func beats(cand Chain, valid, broken int, best Chain, bestValid, bestBroken int, dir Directory) bool {
	switch {
	case valid != bestValid:
		return valid > bestValid
	case broken != bestBroken:
		return broken < bestBroken
	}
	head1, head2, _ := MergeHead(best, cand)
	return joinedKey(dir, head2) < joinedKey(dir, head1)
}

// joinedKey orders participants by join time; participants that never
// joined sort after everyone.
func joinedKey(dir Directory, id string) int64 {
	t, ok := dir.JoinedAt(id)
	if !ok || t.IsZero() {
		return 1<<63 - 1
	}
	return t.UnixNano()
}

// MergeHead walks two anchor-first chains from the anchor while they agree.
// It returns the first element of each chain past the shared prefix and the
// index of the last shared element. When one chain is exhausted its final
// element is used.
func MergeHead(c1, c2 Chain) (head1, head2 string, at int) {
	if len(c1) == 0 || len(c2) == 0 {
		return "", "", 0
	}
	max1, max2 := len(c1)-1, len(c2)-1
	i := 0
	for c1[min(i, max1)] == c2[min(i, max2)] && (i < max1 || i < max2) {
		i++
	}
	return c1[min(i, max1)], c2[min(i, max2)], max(i-1, 0)
}
