// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package registry holds the bridge's inverter table. Each entry carries
// both its addressing fields and its energy-reconciliation state in one
// place, rather than in a parallel array indexed the same way, so the
// index-to-state relationship can't come apart.
package registry

import "fmt"

// Panels a supported inverter family can have.
const (
	Panels2 = 2
	Panels4 = 4
)

// EnergyState is the per-panel energy-reconciliation state for one
// inverter: the most recent value returned to the caller and the
// accumulator added to each raw reading to mask inverter restarts.
type EnergyState struct {
	Last   []float64 // last value returned per panel
	Offset []float64 // accumulator added to each raw reading
}

// Entry is one registered inverter.
type Entry struct {
	Serial  [6]byte // used only during pairing
	ShortID [2]byte // learned during pairing, used in every poll; zero before pairing
	Panels  int     // 2 or 4
	Energy  EnergyState
}

// Paired reports whether this entry has learned a non-zero short address.
func (e *Entry) Paired() bool {
	return e.ShortID != [2]byte{0, 0}
}

// Registry is an ordered, append-only collection of inverter entries
// addressed by an index assigned at registration. Indices are stable for
// the lifetime of the registry; there is no removal.
type Registry struct {
	entries []*Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add registers a new inverter and returns its index, which is always
// len(registry) before the call, i.e. sequential starting at 0.
// panels must be 2 or 4.
func (r *Registry) Add(serial [6]byte, shortID [2]byte, panels int) (int, error) {
	if panels != Panels2 && panels != Panels4 {
		return 0, fmt.Errorf("registry: unsupported panel count %d", panels)
	}
	e := &Entry{
		Serial:  serial,
		ShortID: shortID,
		Panels:  panels,
		Energy: EnergyState{
			Last:   make([]float64, panels),
			Offset: make([]float64, panels),
		},
	}
	r.entries = append(r.entries, e)
	return len(r.entries) - 1, nil
}

// Len returns the number of registered inverters.
func (r *Registry) Len() int { return len(r.entries) }

// Get returns the entry at index, or an error if index is out of range.
func (r *Registry) Get(index int) (*Entry, error) {
	if index < 0 || index >= len(r.entries) {
		return nil, fmt.Errorf("registry: index %d out of range (have %d entries)", index, len(r.entries))
	}
	return r.entries[index], nil
}

// SetShortID updates the short address learned during pairing.
func (r *Registry) SetShortID(index int, shortID [2]byte) error {
	e, err := r.Get(index)
	if err != nil {
		return err
	}
	e.ShortID = shortID
	return nil
}

// ResetCounters zeroes the energy state for index, called once per local
// calendar day so the daily total starts fresh.
func (r *Registry) ResetCounters(index int) error {
	e, err := r.Get(index)
	if err != nil {
		return err
	}
	for i := range e.Energy.Last {
		e.Energy.Last[i] = 0
		e.Energy.Offset[i] = 0
	}
	return nil
}
