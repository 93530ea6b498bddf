package escalation

// HazardReading is one frame's signals for a zone.
type HazardReading struct {
	FlamePresent    bool   `json:"flame_present"`
	SmokePresent    bool   `json:"smoke_present"`
	BoiloverPresent bool   `json:"boilover_present"`
	PersonPresent   bool   `json:"person_present"`
	FlammableNearby bool   `json:"flammable_nearby"`
	FlammableObject string `json:"flammable_object,omitempty"`
}
