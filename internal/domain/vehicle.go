package domain

import (
	"strings"
	"unicode/utf8"
)

// VehicleRecord is one decoded vehicle position. Optional fields are nil
// when the upstream feed did not carry them.
type VehicleRecord struct {
	ID          *string  `json:"id,omitempty"`
	Label       *string  `json:"label,omitempty"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Bearing     *float64 `json:"bearing,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	RouteID     *string  `json:"routeId,omitempty"`
	TripID      *string  `json:"tripId,omitempty"`
	Timestamp   *int64   `json:"timestamp,omitempty"` // epoch milliseconds
	Headsign    *string  `json:"headsign,omitempty"`
	DirectionID *int     `json:"directionId,omitempty"`
	VehicleType *int     `json:"vehicleType,omitempty"`
}

// headsignSeparators are tried right to left; the text after the last one wins.
const headsignSeparators = "-–>"

// DeriveHeadsign extracts a destination from a raw vehicle label such as
// "12-Lagiewnicka" or "5 > Retkinia". It returns nil when the label has no
// separator or nothing follows it.
func DeriveHeadsign(label string) *string {
	idx := strings.LastIndexAny(label, headsignSeparators)
	if idx < 0 {
		return nil
	}
	_, size := utf8.DecodeRuneInString(label[idx:])
	tail := strings.TrimSpace(label[idx+size:])
	if tail == "" {
		return nil
	}
	return &tail
}
