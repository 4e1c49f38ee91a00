// Package display enumerates the displays a capture session can target.
package display

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bryanchriswhite/screenmask/internal/geometry"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

var (
	// ErrNoDisplays is returned when the OS reports no displays at all.
	ErrNoDisplays = errors.New("no displays found")

	// ErrDisplayNotFound is returned when a requested display id is unknown.
	ErrDisplayNotFound = errors.New("display not found")
)

// Descriptor describes one display. Values are immutable once enumerated.
type Descriptor struct {
	ID          int     `json:"id"`
	Name        string  `json:"name,omitempty"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scale_factor"`
	Primary     bool    `json:"primary"`
}

// Bounds returns the display rectangle in virtual-desktop coordinates.
func (d Descriptor) Bounds() geometry.Rect {
	return geometry.NewRect(d.X, d.Y, d.Width, d.Height)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("display %d (%dx%d at %d,%d, scale %.2f)", d.ID, d.Width, d.Height, d.X, d.Y, d.ScaleFactor)
}

// Source queries the OS for displays in its native order. IDs must be
// assigned by the source from that order.
type Source interface {
	Displays() ([]Descriptor, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() ([]Descriptor, error)

// Displays implements Source.
func (f SourceFunc) Displays() ([]Descriptor, error) { return f() }

// Enumerator lists displays in a deterministic (y, x) order.
type Enumerator struct {
	source Source
}

// NewEnumerator creates an enumerator over source. A nil source selects the
// platform default.
func NewEnumerator(source Source) *Enumerator {
	if source == nil {
		source = NewPlatformSource()
	}
	return &Enumerator{source: source}
}

// List returns all displays sorted by y, then x. Ties keep the order the OS
// reported them in.
func (e *Enumerator) List() ([]Descriptor, error) {
	displays, err := e.source.Displays()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate displays: %w", err)
	}
	if len(displays) == 0 {
		return nil, ErrNoDisplays
	}

	sorted := make([]Descriptor, len(displays))
	copy(sorted, displays)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	log := logger.WithComponent("display")
	for _, d := range sorted {
		log.Debug().
			Int("id", d.ID).
			Int("x", d.X).
			Int("y", d.Y).
			Int("width", d.Width).
			Int("height", d.Height).
			Float64("scale_factor", d.ScaleFactor).
			Msg("Display found")
	}

	return sorted, nil
}

// Find returns the display with the given id.
func (e *Enumerator) Find(id int) (Descriptor, error) {
	displays, err := e.List()
	if err != nil {
		return Descriptor{}, err
	}
	for _, d := range displays {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %d", ErrDisplayNotFound, id)
}
