// Package sku maps detection labels to the integer product codes used downstream.
package sku

import (
	"fmt"
	"maps"
	"slices"

	"github.com/andresmejia3/skuscan/internal/types"
)

// Mapping is a read-only label to code table. The zero value maps nothing.
type Mapping struct {
	codes map[string]int
}

// Default is the built-in product table.
func Default() Mapping {
	return Mapping{codes: map[string]int{
		"wraps":   1601,
		"salads":  1101,
		"pudding": 2706,
		"yogurt":  2604,
	}}
}

// FromMap copies m into a new Mapping. Codes must be positive.
func FromMap(m map[string]int) (Mapping, error) {
	codes := make(map[string]int, len(m))
	for label, code := range m {
		if label == "" {
			return Mapping{}, fmt.Errorf("empty label for code %d", code)
		}
		if code <= 0 {
			return Mapping{}, fmt.Errorf("label %q: code must be positive, got %d", label, code)
		}
		codes[label] = code
	}
	return Mapping{codes: codes}, nil
}

// Merge returns a new Mapping where entries from override replace those in m.
func (m Mapping) Merge(override Mapping) Mapping {
	codes := make(map[string]int, len(m.codes)+len(override.codes))
	maps.Copy(codes, m.codes)
	maps.Copy(codes, override.codes)
	return Mapping{codes: codes}
}

// Lookup returns the code for label.
func (m Mapping) Lookup(label string) (int, bool) {
	code, ok := m.codes[label]
	return code, ok
}

// Labels returns the mapped labels in sorted order.
func (m Mapping) Labels() []string {
	return slices.Sorted(maps.Keys(m.codes))
}

// Len returns the number of entries.
func (m Mapping) Len() int { return len(m.codes) }

// Item is one detection resolved against the table. Code is 0 for unmapped labels.
type Item struct {
	Label      string
	Code       int
	Confidence float64
}

// Resolve looks up every detection, keeping the input order.
func (m Mapping) Resolve(dets types.Detections) []Item {
	items := make([]Item, 0, len(dets))
	for _, d := range dets {
		code, _ := m.Lookup(d.Label)
		items = append(items, Item{Label: d.Label, Code: code, Confidence: d.Confidence})
	}
	return items
}
