// Package attribute is the C3 component: write-attribute storage and
// resolution for the Observe/Notify pipeline (spec §4.3). The source keeps
// pmin/pmax/gt/lt/st/cancel on the Lwm2mObservedResource/Lwm2mObservedInstance
// structs themselves, rediscovered per observation; here attributes are
// stored independently of any active observation, keyed by path and server,
// and resolved by walking resource -> object-instance -> object -> server
// default, since the spec requires attributes to be settable (and to take
// effect) whether or not anything is currently observing that path.
package attribute

import (
	"fmt"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
)

// Set holds the write-attributes that may be attached to any level of the
// object tree (spec §4.3 table). A nil field means "not set at this level".
type Set struct {
	PMin   *int64
	PMax   *int64
	GT     *float64
	LT     *float64
	ST     *float64
	Cancel bool
}

// Resolved is the effective attribute set after walking the hierarchy.
// PMin/PMax fall back to the defaults passed to Resolve when no level in the
// hierarchy sets them; GT/LT/ST stay nil.
type Resolved struct {
	PMin int64
	PMax int64 // 0 means unbounded
	GT   *float64
	LT   *float64
	ST   *float64
}

// key identifies one (server, path) attribute attachment point. Entries are
// per server: Resolve reads only the entries of the server it is given, and
// entries under server 0 apply only to server 0.
type key struct {
	server int
	path   model.Path
}

// Store holds every write-attribute attachment currently in effect.
type Store struct {
	entries map[key]*Set
}

// New builds an empty attribute store.
func New() *Store {
	return &Store{entries: make(map[key]*Set)}
}

// Validate enforces the cross-field and type rules spec §4.3 lists: pmin
// must not exceed pmax, lt must be less than gt, st must be non-negative,
// and gt/lt/st may only be set on resources whose Kind is numeric.
func Validate(s Set, numeric bool) error {
	if s.PMin != nil && s.PMax != nil && *s.PMin > *s.PMax {
		return fmt.Errorf("%w: pmin %d exceeds pmax %d", lwm2merr.ErrPayloadMalformed, *s.PMin, *s.PMax)
	}
	if (s.GT != nil || s.LT != nil || s.ST != nil) && !numeric {
		return fmt.Errorf("%w: gt/lt/st require a numeric resource", lwm2merr.ErrTypeMismatch)
	}
	if s.GT != nil && s.LT != nil && *s.LT >= *s.GT {
		return fmt.Errorf("%w: lt %v must be less than gt %v", lwm2merr.ErrPayloadMalformed, *s.LT, *s.GT)
	}
	if s.ST != nil && *s.ST < 0 {
		return fmt.Errorf("%w: st must be non-negative, got %v", lwm2merr.ErrPayloadMalformed, *s.ST)
	}
	return nil
}

// Apply merges incoming attribute fields onto whatever is already set at
// (server, path); fields left nil in incoming are left untouched, matching
// the Write-Attributes operation's partial-update semantics. Cancel clears
// every field at that exact attachment point instead of merging.
func (st *Store) Apply(server int, path model.Path, incoming Set) {
	k := key{server, path}
	if incoming.Cancel {
		delete(st.entries, k)
		return
	}
	existing, ok := st.entries[k]
	if !ok {
		existing = &Set{}
		st.entries[k] = existing
	}
	if incoming.PMin != nil {
		existing.PMin = incoming.PMin
	}
	if incoming.PMax != nil {
		existing.PMax = incoming.PMax
	}
	if incoming.GT != nil {
		existing.GT = incoming.GT
	}
	if incoming.LT != nil {
		existing.LT = incoming.LT
	}
	if incoming.ST != nil {
		existing.ST = incoming.ST
	}
}

// Resolve walks path upward (resource -> instance -> object) for server,
// then falls back to that server's defaults given in defaultPMin/defaultPMax
// (the Server object's Default Minimum/Maximum Period resources, spec §4.3
// "inherits the nearest ancestor's attributes, else the server defaults").
func (st *Store) Resolve(server int, path model.Path, defaultPMin, defaultPMax int64) Resolved {
	r := Resolved{PMin: defaultPMin, PMax: defaultPMax}
	levels := ancestry(path)
	// Walk from the outermost (object) to the innermost (the path itself) so
	// closer levels override further ones.
	for i := len(levels) - 1; i >= 0; i-- {
		if set, ok := st.entries[key{server, levels[i]}]; ok {
			mergeInto(&r, set)
		}
	}
	return r
}

func mergeInto(r *Resolved, s *Set) {
	if s.PMin != nil {
		r.PMin = *s.PMin
	}
	if s.PMax != nil {
		r.PMax = *s.PMax
	}
	if s.GT != nil {
		r.GT = s.GT
	}
	if s.LT != nil {
		r.LT = s.LT
	}
	if s.ST != nil {
		r.ST = s.ST
	}
}

// ancestry returns path and every ancestor up to (and including) the object
// level, innermost first.
func ancestry(path model.Path) []model.Path {
	levels := make([]model.Path, 0, path.Depth)
	for p := path; ; p = p.Parent() {
		levels = append(levels, p)
		if p.Depth <= 1 {
			break
		}
	}
	return levels
}
