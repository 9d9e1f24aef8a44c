package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfidence is returned when a confidence tier name is not recognized.
var ErrInvalidConfidence = errors.New("invalid confidence tier")

// Confidence is an ordered quality label attached to inferred edges.
// Higher values are stronger: Exact > High > Medium > Low.
type Confidence int

const (
	ConfidenceUnknown Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceExact
)

var confidenceNames = map[Confidence]string{
	ConfidenceUnknown: "unknown",
	ConfidenceLow:     "low",
	ConfidenceMedium:  "medium",
	ConfidenceHigh:    "high",
	ConfidenceExact:   "exact",
}

// String returns the lowercase tier name.
func (c Confidence) String() string {
	if name, ok := confidenceNames[c]; ok {
		return name
	}
	return fmt.Sprintf("confidence(%d)", int(c))
}

// ParseConfidence parses a tier name. Matching is case-insensitive.
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact":
		return ConfidenceExact, nil
	case "high":
		return ConfidenceHigh, nil
	case "medium":
		return ConfidenceMedium, nil
	case "low":
		return ConfidenceLow, nil
	}
	return ConfidenceUnknown, fmt.Errorf("%w: %q (want exact, high, medium or low)", ErrInvalidConfidence, s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(text []byte) error {
	if string(text) == "unknown" || len(text) == 0 {
		*c = ConfidenceUnknown
		return nil
	}
	parsed, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
