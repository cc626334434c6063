// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package version

import (
	"fmt"
	"sort"
	"sync"
)

// Patch overrides tuning knobs of one protocol version from an activation
// height onwards.
type Patch struct {
	Protocol         ProtocolVersion
	ActivationHeight uint64
	Apply            func(Tuning) Tuning
}

type patchKey struct {
	protocol ProtocolVersion
	height   uint64
}

// Registry holds the immutable table of every supported protocol version and
// the ordered list of registered patches.
type Registry struct {
	lock sync.Mutex

	versions map[ProtocolVersion]*PlatformVersion
	// patches per protocol version, sorted by activation height
	patches map[ProtocolVersion][]Patch
	// patched tables keyed by the activation height of the last patch applied
	memo map[patchKey]*PlatformVersion

	finalizedHeight uint64
}

// NewRegistry returns a registry with every built-in protocol version.
func NewRegistry() *Registry {
	r := &Registry{
		versions: make(map[ProtocolVersion]*PlatformVersion),
		patches:  make(map[ProtocolVersion][]Patch),
		memo:     make(map[patchKey]*PlatformVersion),
	}
	for _, pv := range builtinVersions() {
		if err := r.Register(pv); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds the table of a protocol version.
func (r *Registry) Register(pv *PlatformVersion) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.versions[pv.Protocol]; ok {
		return fmt.Errorf("%w: %d", errVersionRegistered, pv.Protocol)
	}
	r.versions[pv.Protocol] = pv
	return nil
}

// Versions returns every registered protocol version in ascending order.
func (r *Registry) Versions() []ProtocolVersion {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.sortedVersions()
}

func (r *Registry) sortedVersions() []ProtocolVersion {
	versions := make([]ProtocolVersion, 0, len(r.versions))
	for v := range r.versions {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

// Resolve returns the unpatched table of [v].
func (r *Registry) Resolve(v ProtocolVersion) (*PlatformVersion, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	pv, ok := r.versions[v]
	if !ok {
		return nil, &UnknownVersionError{Version: v, Known: r.sortedVersions()}
	}
	return pv, nil
}

// ResolveAt returns the table of [v] with every patch activated at or below
// [height] applied in activation order. Results are memoised.
func (r *Registry) ResolveAt(v ProtocolVersion, height uint64) (*PlatformVersion, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	base, ok := r.versions[v]
	if !ok {
		return nil, &UnknownVersionError{Version: v, Known: r.sortedVersions()}
	}

	patches := r.patches[v]
	n := sort.Search(len(patches), func(i int) bool {
		return patches[i].ActivationHeight > height
	})
	if n == 0 {
		return base, nil
	}

	key := patchKey{protocol: v, height: patches[n-1].ActivationHeight}
	if pv, ok := r.memo[key]; ok {
		return pv, nil
	}
	pv := base.clone()
	for _, p := range patches[:n] {
		pv.Tuning = p.Apply(pv.Tuning)
	}
	r.memo[key] = pv
	return pv, nil
}

// MethodVersion looks up the feature version of [m] in [v].
func (r *Registry) MethodVersion(m Method, v ProtocolVersion) (FeatureVersion, error) {
	pv, err := r.Resolve(v)
	if err != nil {
		return 0, err
	}
	return pv.MethodVersion(m)
}

// SetFinalizedHeight records the last committed height. Patches can only be
// registered above it.
func (r *Registry) SetFinalizedHeight(height uint64) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if height > r.finalizedHeight {
		r.finalizedHeight = height
	}
}

// RegisterPatch adds a tuning patch. Patches never apply retroactively, so the
// activation height must lie strictly above the finalized height.
func (r *Registry) RegisterPatch(p Patch) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if p.Apply == nil {
		return errNilPatch
	}
	if _, ok := r.versions[p.Protocol]; !ok {
		return &UnknownVersionError{Version: p.Protocol, Known: r.sortedVersions()}
	}
	if p.ActivationHeight <= r.finalizedHeight {
		return fmt.Errorf("%w: activation %d, finalized %d", errPatchNotForward, p.ActivationHeight, r.finalizedHeight)
	}

	patches := r.patches[p.Protocol]
	i := sort.Search(len(patches), func(i int) bool {
		return patches[i].ActivationHeight >= p.ActivationHeight
	})
	if i < len(patches) && patches[i].ActivationHeight == p.ActivationHeight {
		return fmt.Errorf("%w: %d", errDuplicatePatch, p.ActivationHeight)
	}
	patches = append(patches, Patch{})
	copy(patches[i+1:], patches[i:])
	patches[i] = p
	r.patches[p.Protocol] = patches

	// memoised tables at or above the new activation height are stale
	for key := range r.memo {
		if key.protocol == p.Protocol && key.height >= p.ActivationHeight {
			delete(r.memo, key)
		}
	}
	return nil
}

// Coverable is implemented by dispatch tables so the registry can check that
// every table entry has an implemented arm.
type Coverable interface {
	Name() string
	Covers(m Method, fv FeatureVersion) bool
	Handles(m Method) bool
}

// CheckCoverage verifies that for every registered protocol version each
// method is handled by one of [tables] and has an arm for its feature
// version. It must pass before a node starts processing blocks.
func (r *Registry) CheckCoverage(tables ...Coverable) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, v := range r.sortedVersions() {
		pv := r.versions[v]
		methods := make([]Method, 0, len(pv.Methods))
		for m := range pv.Methods {
			methods = append(methods, m)
		}
		sort.Slice(methods, func(i, j int) bool { return methods[i].String() < methods[j].String() })

		for _, m := range methods {
			fv := pv.Methods[m]
			handled := false
			for _, t := range tables {
				if !t.Handles(m) {
					continue
				}
				handled = true
				if !t.Covers(m, fv) {
					return fmt.Errorf("protocol version %d, table %s: %w", v, t.Name(), &UnknownVersionMismatchError{
						Method:   m,
						Received: fv,
					})
				}
			}
			if !handled {
				return &MissingMethodError{Method: m, Version: v}
			}
		}
	}
	return nil
}
