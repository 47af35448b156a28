// Package order turns an impact plan into two concrete execution
// sequences: the order packages must be installed in, and the order the
// packages they replace or collaterally remove must come out in first.
// Grounded on the C implementation's order.c.
package order

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/impact"
	"github.com/opkg-go/opkg/internal/resolver"
)

// InstallOrder returns every Install/Upgrade entry sorted deepest-level
// first: the resolver assigns level 1 to the requested root and increments
// it one per hop further into its DEPS graph, so a higher level is a
// dependency further from the root and must land on disk before whatever
// needs it. order_install builds its list the same way — walking levels
// 0..maxlevel and pushing each onto the front of the result list, which
// turns the ascending walk into a descending final order. Ties within a
// level break lexicographically on Full (Open Question 3 — the C
// implementation's tie order is an accident of singly-linked-list
// head-insertion, not a meaningful invariant).
func InstallOrder(entries []impact.Entry) []impact.Entry {
	var out []impact.Entry
	for _, e := range entries {
		if e.Action == impact.Install || e.Action == impact.Upgrade {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Full < out[j].Full
	})
	return out
}

// RemoveOrder returns every Remove/Upgrade entry (the old fullname an
// upgrade replaces counts as a removal too) sorted so that a package never
// comes out before everything depending on it already has: removalDeepness
// assigns a package with reverse dependents still standing a level one
// deeper than the deepest of those dependents, so the dependent (lower
// level) must be scheduled first and the depended-upon package (higher
// level) last. Levels recorded by the forward resolver are not reusable
// here — grounded on remove_dep_deepness / upgrade_dep_deepness, which both
// discard the impact analysis's level and recompute it from the installed
// reverse-dependency graph. order_remove walks levels maxlevel..0 and
// pushes each onto the front of the result list, turning that descending
// walk into an ascending final order.
func RemoveOrder(ctx context.Context, store *catalog.Store, entries []impact.Entry) ([]impact.Entry, error) {
	var out []impact.Entry
	for _, e := range entries {
		if e.Action != impact.Remove && e.Action != impact.Upgrade {
			continue
		}
		step := e
		step.Full = oldFullOf(e)

		if e.Level == resolver.UniqueLevel {
			step.Level = 0
			out = append(out, step)
			continue
		}

		level, err := removalDeepness(ctx, store, stem(step.Full))
		if err != nil {
			return nil, err
		}
		step.Level = level
		out = append(out, step)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Full < out[j].Full
	})
	return out, nil
}

// oldFullOf returns the fullname actually coming out of the system: a pure
// Remove entry only ever had the one, an Upgrade entry's removal step acts
// on the package it replaces.
func oldFullOf(e impact.Entry) string {
	if e.Action == impact.Upgrade {
		return e.Old
	}
	return e.Full
}

// removalDeepness is remove_dep_deepness/upgrade_dep_deepness: the deepest
// installed reverse-dependency generation still standing on name, plus
// one, so a package is never scheduled for removal before everything that
// depends on it.
func removalDeepness(ctx context.Context, store *catalog.Store, name string) (int, error) {
	nodes, err := resolver.Expand(ctx, store, catalog.Local, resolver.Reverse, name, false)
	if err != nil {
		return 0, errors.Wrapf(err, "order: reverse deepness for %s", name)
	}

	max := 0
	for _, n := range nodes {
		if n.Name == name {
			continue
		}
		if n.Level > max {
			max = n.Level
		}
	}
	if max == 0 {
		return 1, nil
	}
	return max + 1, nil
}

func stem(full string) string {
	idx := strings.LastIndexByte(full, '-')
	if idx < 0 {
		return full
	}
	return full[:idx]
}
