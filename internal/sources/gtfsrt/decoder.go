package gtfsrt

import (
	"bytes"
	"errors"
	"math"
	"strconv"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/MrSnakeDoc/livefeed/internal/domain"
)

// Decoder turns a GTFS-Realtime payload into vehicle records. Binary
// protobuf is the normal case; JSON renderings of the same schema
// (camelCase or snake_case) are accepted too.
type Decoder struct{}

// NewDecoder creates a new GTFS-RT decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Required proto2 fields are not enforced so that one vehicle without a
// latitude doesn't reject the whole feed. The header is checked by hand.
var unmarshalOptions = proto.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}

// errMissingHeader rejects empty or truncated payloads, which would
// otherwise parse as a feed with zero vehicles.
var errMissingHeader = errors.New("feed has no header")

// Decode returns records in upstream entity order. Entities without a
// usable position are skipped. It fails when payload cannot be parsed or
// carries no feed header.
func (d *Decoder) Decode(payload []byte) ([]domain.VehicleRecord, error) {
	if looksLikeJSON(payload) {
		return decodeJSON(payload)
	}

	var feed gtfs.FeedMessage
	if err := unmarshalOptions.Unmarshal(payload, &feed); err != nil {
		return nil, &domain.DecodeError{Err: err}
	}
	if feed.Header == nil {
		return nil, &domain.DecodeError{Err: errMissingHeader}
	}

	records := make([]domain.VehicleRecord, 0, len(feed.Entity))
	for _, ent := range feed.Entity {
		if ent == nil || ent.Vehicle == nil {
			continue
		}
		if rec, ok := fromProto(ent).record(); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func looksLikeJSON(payload []byte) bool {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func fromProto(ent *gtfs.FeedEntity) rawVehicle {
	vp := ent.Vehicle
	raw := rawVehicle{entityID: nonEmpty(ent.Id)}

	if vp.Vehicle != nil {
		raw.vehicleID = nonEmpty(vp.Vehicle.Id)
		raw.label = nonEmpty(vp.Vehicle.Label)
	}
	if pos := vp.Position; pos != nil {
		raw.lat = widen(pos.Latitude)
		raw.lon = widen(pos.Longitude)
		raw.bearing = widen(pos.Bearing)
		raw.speed = widen(pos.Speed)
	}
	if trip := vp.Trip; trip != nil {
		raw.routeID = nonEmpty(trip.RouteId)
		raw.tripID = nonEmpty(trip.TripId)
		if trip.DirectionId != nil {
			dir := int(*trip.DirectionId)
			raw.directionID = &dir
		}
	}
	if vp.Timestamp != nil {
		ts := int64(*vp.Timestamp)
		raw.timestampSec = &ts
	}
	return raw
}

// rawVehicle is the schema-neutral view both decoding paths fill in.
type rawVehicle struct {
	entityID  *string
	vehicleID *string
	label     *string

	lat, lon       *float64
	bearing, speed *float64

	routeID     *string
	tripID      *string
	directionID *int

	timestampSec *int64
	headsign     *string

	descriptorType *int
	routeType      *int
}

func (r rawVehicle) record() (domain.VehicleRecord, bool) {
	if r.lat == nil || r.lon == nil {
		return domain.VehicleRecord{}, false
	}

	rec := domain.VehicleRecord{
		ID:          firstOf(r.vehicleID, r.entityID),
		Label:       r.label,
		Lat:         *r.lat,
		Lon:         *r.lon,
		Bearing:     r.bearing,
		Speed:       r.speed,
		RouteID:     r.routeID,
		TripID:      r.tripID,
		Headsign:    r.headsign,
		DirectionID: r.directionID,
		VehicleType: firstOf(r.descriptorType, r.routeType),
	}
	if rec.Headsign == nil && r.label != nil {
		rec.Headsign = domain.DeriveHeadsign(*r.label)
	}
	if r.timestampSec != nil && *r.timestampSec > 0 {
		ms := *r.timestampSec * 1000
		rec.Timestamp = &ms
	}
	return rec, true
}

func firstOf[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// widen converts a float32 to the float64 with the same shortest decimal
// form, so 19.45 stays 19.45 instead of 19.450000762939453. Non-finite
// values count as absent.
func widen(f *float32) *float64 {
	if f == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(*f), 'g', -1, 32), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
