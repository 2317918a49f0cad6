// Package resolver is the conflict resolver (C6): a pure function that
// decides, for one entity whose local and remote copies disagree, which
// side wins or how to merge them. Grounded on the teacher's field-by-field
// 3-way merge in internal/merge/merge.go, collapsed to a 2-way diff since
// the sync core only ever compares "local" against "remote" (there is no
// shared base revision). Same-timestamp ties are settled deterministically:
// LWW hands them to the remote copy, field-merge flags them for review.
// Deletions get no special treatment.
package resolver

import (
	"reflect"

	"github.com/pbookspro/synccore/internal/synctypes"
)

// Resolution mirrors synctypes.ConflictResolution.
type Resolution = synctypes.ConflictResolution

const (
	ResolutionLocalWins     = synctypes.ResolutionLocalWins
	ResolutionRemoteWins    = synctypes.ResolutionRemoteWins
	ResolutionMerged        = synctypes.ResolutionMerged
	ResolutionPendingReview = synctypes.ResolutionPendingReview
)

// Outcome is which side's data the caller should persist.
type Outcome int

const (
	UseLocal Outcome = iota
	UseRemote
	UseMerged
)

// Context carries everything Resolve needs to decide, matching spec
// §4.3's ctx fields.
type Context struct {
	EntityType synctypes.EntityType
	EntityID   string
	TenantID   string

	Local  synctypes.EntityRecord
	Remote synctypes.EntityRecord
}

// Decision is the resolver's verdict.
type Decision struct {
	Outcome     Outcome
	Resolution  Resolution
	NeedsReview bool
	// MergedFields holds the merged field set when Outcome is UseMerged.
	MergedFields map[string]any
}

// Resolve dispatches to the tier-specific algorithm for ctx.EntityType, per
// spec §4.3's entity classification.
func Resolve(ctx Context) Decision {
	switch synctypes.Classify(ctx.EntityType) {
	case synctypes.TierVersionAware:
		return resolveVersionAware(ctx)
	case synctypes.TierLWW:
		return resolveLWW(ctx)
	default:
		return resolveFieldMerge(ctx)
	}
}

// resolveLWW implements spec §4.3's last-write-wins algorithm: the side
// with the later updated_at wins; ties go to remote.
func resolveLWW(ctx Context) Decision {
	if !ctx.Remote.UpdatedAt.Before(ctx.Local.UpdatedAt) {
		return Decision{Outcome: UseRemote, Resolution: ResolutionRemoteWins}
	}
	return Decision{Outcome: UseLocal, Resolution: ResolutionLocalWins}
}

// resolveVersionAware implements spec §4.3's version-aware algorithm for
// financial entities: a version gap greater than one flags the record for
// manual review instead of silently overwriting locally-held data;
// otherwise it delegates to field-merge.
func resolveVersionAware(ctx Context) Decision {
	if ctx.Local.Version > 0 && ctx.Remote.Version > 0 {
		deltaV := ctx.Remote.Version - ctx.Local.Version
		if deltaV < 0 {
			deltaV = -deltaV
		}
		if deltaV > 1 {
			return Decision{Outcome: UseLocal, Resolution: ResolutionPendingReview, NeedsReview: true}
		}
	}
	return resolveFieldMerge(ctx)
}

// resolveFieldMerge implements spec §4.3's field-merge algorithm.
func resolveFieldMerge(ctx Context) Decision {
	delta := diff(ctx.Local.Fields, ctx.Remote.Fields)

	if len(delta) == 0 {
		return Decision{Outcome: UseRemote, Resolution: ResolutionRemoteWins}
	}

	localNewer := ctx.Local.UpdatedAt.After(ctx.Remote.UpdatedAt)
	remoteNewer := ctx.Remote.UpdatedAt.After(ctx.Local.UpdatedAt)

	switch {
	case localNewer:
		merged := cloneFields(ctx.Remote.Fields)
		for key := range delta {
			merged[key] = ctx.Local.Fields[key]
		}
		return Decision{Outcome: UseMerged, Resolution: ResolutionMerged, MergedFields: merged}
	case remoteNewer:
		return Decision{Outcome: UseRemote, Resolution: ResolutionRemoteWins}
	default:
		// Timestamps tied with a real field divergence: remote wins
		// provisionally but the conflict needs a human look.
		return Decision{Outcome: UseRemote, Resolution: ResolutionPendingReview, NeedsReview: true}
	}
}

// diff returns the set of field names whose values differ between local
// and remote, ignoring the bookkeeping key set (spec §4.3 step 1).
func diff(local, remote map[string]any) map[string]struct{} {
	delta := make(map[string]struct{})
	seen := make(map[string]struct{}, len(local)+len(remote))

	for key := range local {
		seen[key] = struct{}{}
	}
	for key := range remote {
		seen[key] = struct{}{}
	}

	for key := range seen {
		if synctypes.IsBookkeepingKey(key) {
			continue
		}
		lv, lok := local[key]
		rv, rok := remote[key]
		if lok != rok || !reflect.DeepEqual(lv, rv) {
			delta[key] = struct{}{}
		}
	}
	return delta
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
