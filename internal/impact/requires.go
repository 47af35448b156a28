package impact

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/pattern"
)

// checkConflicts walks every declared local CONFLICTS pattern and, for each
// one that matches a package about to be installed or upgraded, looks up
// which installed package declared it. A match against the very package
// being replaced (an upgrade's own Old fullname) is not a real conflict.
// Anything else is a hard stop unless ConfirmConflict says otherwise.
func checkConflicts(ctx context.Context, store *catalog.Store, entries []Entry, opts Options) error {
	declared, err := store.ConflictsList(ctx)
	if err != nil {
		return errors.Wrap(err, "impact: list conflicts")
	}
	if len(declared) == 0 {
		return nil
	}

	for _, e := range entries {
		if e.Action != Install && e.Action != Upgrade {
			continue
		}
		for _, pat := range declared {
			if !pattern.Match(pat, e.Full) {
				continue
			}
			installedFull, found, err := store.FindConflictingInstalled(ctx, pat)
			if err != nil {
				return errors.Wrapf(err, "impact: conflicting installed for %s", pat)
			}
			if !found || installedFull == e.Old {
				continue
			}

			proceed := false
			if opts.ConfirmConflict != nil {
				proceed = opts.ConfirmConflict(installedFull, e.Full)
			}
			if !proceed {
				return errors.Wrapf(ErrConflict, "%s conflicts with installed %s", e.Full, installedFull)
			}
		}
	}
	return nil
}

// checkRequires verifies every REQUIRES entry of a package about to be
// installed or upgraded against the union of what is already installed
// (PROVIDES) and what the rest of this same transaction will provide.
// A requirement beginning with "/" is a filesystem path, checked directly;
// anything else is a named capability, checked against PROVIDES. With
// StrictRequires unset a miss is recorded as a warning instead of aborting.
func checkRequires(ctx context.Context, store *catalog.Store, entries []Entry, opts Options) ([]string, error) {
	provided, err := plannedProvides(ctx, store, entries)
	if err != nil {
		return nil, err
	}

	var warnings []string
	for _, e := range entries {
		if e.Action != Install && e.Action != Upgrade {
			continue
		}
		reqs, err := store.RequiresOf(ctx, e.Full)
		if err != nil {
			return nil, errors.Wrapf(err, "impact: requires of %s", e.Full)
		}
		for _, r := range reqs {
			var satisfied bool
			if strings.HasPrefix(r, "/") {
				satisfied = opts.fileExists(r)
			} else {
				satisfied = provided[r]
			}
			if satisfied {
				continue
			}

			msg := fmt.Sprintf("%s requires %s, which nothing installed or pending provides", e.Full, r)
			if opts.StrictRequires {
				return warnings, errors.Wrap(ErrRequiresUnmet, msg)
			}
			warnings = append(warnings, msg)
		}
	}
	return warnings, nil
}

func plannedProvides(ctx context.Context, store *catalog.Store, entries []Entry) (map[string]bool, error) {
	provided := map[string]bool{}

	local, err := store.LocalProvides(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "impact: local provides")
	}
	for _, p := range local {
		provided[p] = true
	}

	for _, e := range entries {
		if e.Action != Install && e.Action != Upgrade {
			continue
		}
		pv, err := store.ProvidesOf(ctx, e.Full)
		if err != nil {
			return nil, errors.Wrapf(err, "impact: provides of %s", e.Full)
		}
		for _, p := range pv {
			provided[p] = true
		}
	}
	return provided, nil
}
