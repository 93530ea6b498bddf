package hazards

import (
	"math"
	"strings"
	"time"

	escalation "safeflame/internal/escalation/domain"
)

// PersonLabel is the detector label for people.
const PersonLabel = "person"

// Box is an axis-aligned rectangle given by two corners.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the box midpoint.
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Detection is one labelled object from the detector.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Frame is one processed camera frame. Readings, when present for a zone,
// take precedence over anything derived from boxes.
type Frame struct {
	Source        string                              `json:"source,omitempty"`
	At            time.Time                           `json:"at"`
	Detections    []Detection                         `json:"detections,omitempty"`
	FlameBoxes    []Box                               `json:"flame_boxes,omitempty"`
	SmokeBoxes    []Box                               `json:"smoke_boxes,omitempty"`
	BoiloverZones []string                            `json:"boilover_zones,omitempty"`
	Readings      map[string]escalation.HazardReading `json:"readings,omitempty"`
}

// Analyzer derives per-zone hazard readings from a frame.
type Analyzer struct {
	proximityPx   float64
	minConfidence float64
	flammable     map[string]struct{}
}

// AnalyzerOption customizes the analyzer.
type AnalyzerOption func(*Analyzer)

// WithMinConfidence ignores detections below the threshold.
func WithMinConfidence(threshold float64) AnalyzerOption {
	return func(a *Analyzer) {
		if threshold > 0 {
			a.minConfidence = threshold
		}
	}
}

// NewAnalyzer constructs an analyzer.
func NewAnalyzer(proximityPx float64, flammableLabels []string, opts ...AnalyzerOption) *Analyzer {
	if proximityPx <= 0 {
		proximityPx = 150
	}
	a := &Analyzer{
		proximityPx: proximityPx,
		flammable:   make(map[string]struct{}, len(flammableLabels)),
	}
	for _, label := range flammableLabels {
		a.flammable[normalizeLabel(label)] = struct{}{}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Readings returns one reading per zone.
func (a *Analyzer) Readings(frame Frame, zones []escalation.Zone) map[string]escalation.HazardReading {
	readings := make(map[string]escalation.HazardReading, len(zones)+len(frame.Readings))
	person := false
	for _, det := range frame.Detections {
		if a.accept(det) && normalizeLabel(det.Label) == PersonLabel {
			person = true
			break
		}
	}
	boilover := make(map[string]struct{}, len(frame.BoiloverZones))
	for _, name := range frame.BoiloverZones {
		boilover[name] = struct{}{}
	}

	for _, zone := range zones {
		reading := escalation.HazardReading{PersonPresent: person}
		reading.FlamePresent = anyOverlap(zone, frame.FlameBoxes)
		reading.SmokePresent = anyOverlap(zone, frame.SmokeBoxes)
		_, reading.BoiloverPresent = boilover[zone.Name]
		if object, ok := a.nearestFlammable(zone, frame.Detections); ok {
			reading.FlammableNearby = true
			reading.FlammableObject = object
		}
		readings[zone.Name] = reading
	}
	for name, reading := range frame.Readings {
		readings[name] = reading
	}
	return readings
}

func (a *Analyzer) accept(det Detection) bool {
	return det.Confidence >= a.minConfidence
}

// nearestFlammable finds the closest flammable object whose centre lies
// strictly within the proximity radius of the zone centre.
func (a *Analyzer) nearestFlammable(zone escalation.Zone, detections []Detection) (string, bool) {
	zx, zy := zone.Center()
	best := math.Inf(1)
	label := ""
	for _, det := range detections {
		if !a.accept(det) {
			continue
		}
		if _, ok := a.flammable[normalizeLabel(det.Label)]; !ok {
			continue
		}
		cx, cy := det.Box.Center()
		dist := math.Hypot(cx-zx, cy-zy)
		if dist < a.proximityPx && dist < best {
			best = dist
			label = det.Label
		}
	}
	return label, label != ""
}

func anyOverlap(zone escalation.Zone, boxes []Box) bool {
	for _, box := range boxes {
		if zone.Overlaps(box.X1, box.Y1, box.X2, box.Y2) {
			return true
		}
	}
	return false
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
