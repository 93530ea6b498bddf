package escalation

import "errors"

var (
	// ErrInvalidThresholds indicates the ladder thresholds are not ordered INFO <= WARNING <= CRITICAL.
	ErrInvalidThresholds = errors.New("escalation: invalid thresholds")
	// ErrInvalidCooldown indicates a non-positive cooldown window.
	ErrInvalidCooldown = errors.New("escalation: invalid cooldown")
	// ErrUnknownProfile indicates an unsupported settings profile name.
	ErrUnknownProfile = errors.New("escalation: unknown profile")
	// ErrInvalidZone indicates a zone with an empty name or empty geometry.
	ErrInvalidZone = errors.New("escalation: invalid zone")
	// ErrDuplicateZone indicates two zones share a name.
	ErrDuplicateZone = errors.New("escalation: duplicate zone")
	// ErrUnknownZone indicates a zone name missing from the registry.
	ErrUnknownZone = errors.New("escalation: unknown zone")
)
