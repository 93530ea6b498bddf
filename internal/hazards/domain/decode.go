package hazards

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	escalation "safeflame/internal/escalation/domain"
)

// ErrInvalidFrame marks a payload that cannot be decoded into a Frame.
var ErrInvalidFrame = errors.New("hazards: invalid frame")

type wireFrame struct {
	Source        string                              `json:"source"`
	At            json.RawMessage                     `json:"at"`
	Detections    []Detection                         `json:"detections"`
	FlameBoxes    []Box                               `json:"flame_boxes"`
	SmokeBoxes    []Box                               `json:"smoke_boxes"`
	BoiloverZones []string                            `json:"boilover_zones"`
	Readings      map[string]escalation.HazardReading `json:"readings"`
}

// DecodeFrame parses a JSON frame. "at" may be RFC3339 or a unix timestamp
// in seconds or milliseconds; a missing "at" leaves the time zero.
func DecodeFrame(payload []byte, defaultSource string) (Frame, error) {
	var wire wireFrame
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&wire); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	at, err := parseAt(wire.At)
	if err != nil {
		return Frame{}, err
	}
	source := wire.Source
	if source == "" {
		source = defaultSource
	}
	return Frame{
		Source:        source,
		At:            at,
		Detections:    wire.Detections,
		FlameBoxes:    wire.FlameBoxes,
		SmokeBoxes:    wire.SmokeBoxes,
		BoiloverZones: wire.BoiloverZones,
		Readings:      wire.Readings,
	}, nil
}

func parseAt(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, fmt.Errorf("%w: at: %v", ErrInvalidFrame, err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: at must be RFC3339 or epoch", ErrInvalidFrame)
		}
		return parsed.UTC(), nil
	}
	value, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || value < 0 || math.IsInf(value, 0) {
		return time.Time{}, fmt.Errorf("%w: at must be RFC3339 or epoch", ErrInvalidFrame)
	}
	return epochTime(value), nil
}

// epochTime treats values above 1e12 as milliseconds.
func epochTime(value float64) time.Time {
	if value > 1e12 {
		return time.UnixMilli(int64(value)).UTC()
	}
	sec, frac := math.Modf(value)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
