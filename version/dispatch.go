// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package version

import (
	"fmt"
	"sort"
)

var _ Coverable = &Dispatcher[func()]{}

// Dispatcher maps (method, feature version) to an implementation. Callers
// resolve the arm for the active PlatformVersion instead of switching on
// version numbers at every call site.
type Dispatcher[F any] struct {
	name string
	arms map[Method]map[FeatureVersion]F
}

// NewDispatcher returns an empty dispatch table named [name].
func NewDispatcher[F any](name string) *Dispatcher[F] {
	return &Dispatcher[F]{
		name: name,
		arms: make(map[Method]map[FeatureVersion]F),
	}
}

// Register installs [fn] as the arm of [m] for feature version [fv].
// Registering the same arm twice is a programming error and panics.
func (d *Dispatcher[F]) Register(m Method, fv FeatureVersion, fn F) {
	arms, ok := d.arms[m]
	if !ok {
		arms = make(map[FeatureVersion]F)
		d.arms[m] = arms
	}
	if _, dup := arms[fv]; dup {
		panic(fmt.Sprintf("%s: duplicate arm %d for %s", d.name, fv, m))
	}
	arms[fv] = fn
}

// Lookup returns the arm of [m] selected by [pv].
func (d *Dispatcher[F]) Lookup(pv *PlatformVersion, m Method) (F, error) {
	fv, err := pv.MethodVersion(m)
	if err != nil {
		var zero F
		return zero, err
	}
	return d.Arm(m, fv)
}

// Arm returns the arm of [m] for feature version [fv].
func (d *Dispatcher[F]) Arm(m Method, fv FeatureVersion) (F, error) {
	if fn, ok := d.arms[m][fv]; ok {
		return fn, nil
	}
	var zero F
	return zero, &UnknownVersionMismatchError{
		Method:   m,
		Known:    d.known(m),
		Received: fv,
	}
}

func (d *Dispatcher[F]) known(m Method) []FeatureVersion {
	known := make([]FeatureVersion, 0, len(d.arms[m]))
	for fv := range d.arms[m] {
		known = append(known, fv)
	}
	sort.Slice(known, func(i, j int) bool { return known[i] < known[j] })
	return known
}

func (d *Dispatcher[F]) Name() string { return d.name }

func (d *Dispatcher[F]) Handles(m Method) bool {
	_, ok := d.arms[m]
	return ok
}

func (d *Dispatcher[F]) Covers(m Method, fv FeatureVersion) bool {
	_, ok := d.arms[m][fv]
	return ok
}
