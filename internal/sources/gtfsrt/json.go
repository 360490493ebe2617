package gtfsrt

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"github.com/MrSnakeDoc/livefeed/internal/domain"
)

// Accepted spellings per field, camelCase first.
var (
	keysRouteID     = []string{"routeId", "route_id"}
	keysTripID      = []string{"tripId", "trip_id"}
	keysDirectionID = []string{"directionId", "direction_id"}
	keysRouteType   = []string{"routeType", "route_type"}
	keysHeadsign    = []string{"headsign", "tripHeadsign", "trip_headsign"}
)

// decodeJSON walks a GTFS-RT feed rendered as JSON. protojson output
// quotes 64-bit integers, so numbers are accepted as strings too.
func decodeJSON(payload []byte) ([]domain.VehicleRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, &domain.DecodeError{Err: err}
	}
	if object(root, "header") == nil {
		return nil, &domain.DecodeError{Err: errMissingHeader}
	}

	rawEntities, present := root["entity"]
	if !present || rawEntities == nil {
		return []domain.VehicleRecord{}, nil
	}
	entities, ok := rawEntities.([]any)
	if !ok {
		return nil, &domain.DecodeError{Err: errors.New(`"entity" is not an array`)}
	}

	records := make([]domain.VehicleRecord, 0, len(entities))
	for _, e := range entities {
		ent, _ := e.(map[string]any)
		vp := object(ent, "vehicle")
		if vp == nil {
			continue
		}
		if rec, ok := fromJSON(ent, vp).record(); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func fromJSON(ent, vp map[string]any) rawVehicle {
	raw := rawVehicle{entityID: str(ent, "id")}

	if desc := object(vp, "vehicle"); desc != nil {
		raw.vehicleID = str(desc, "id")
		raw.label = str(desc, "label")
		raw.descriptorType = integer(desc, "type")
	}
	if pos := object(vp, "position"); pos != nil {
		raw.lat = number(pos, "latitude", "lat")
		raw.lon = number(pos, "longitude", "lon", "lng")
		raw.bearing = number(pos, "bearing")
		raw.speed = number(pos, "speed")
	}
	trip := object(vp, "trip")
	if trip != nil {
		raw.routeID = str(trip, keysRouteID...)
		raw.tripID = str(trip, keysTripID...)
		raw.directionID = integer(trip, keysDirectionID...)
		raw.routeType = integer(trip, keysRouteType...)
	}
	if ts := integer(vp, "timestamp"); ts != nil {
		sec := int64(*ts)
		raw.timestampSec = &sec
	}

	raw.headsign = str(vp, keysHeadsign...)
	if raw.headsign == nil && trip != nil {
		raw.headsign = str(trip, keysHeadsign...)
	}
	return raw
}

func lookup(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func object(m map[string]any, keys ...string) map[string]any {
	obj, _ := lookup(m, keys...).(map[string]any)
	return obj
}

func str(m map[string]any, keys ...string) *string {
	var s string
	switch v := lookup(m, keys...).(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

func number(m map[string]any, keys ...string) *float64 {
	var (
		f   float64
		err error
	)
	switch v := lookup(m, keys...).(type) {
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(v, 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func integer(m map[string]any, keys ...string) *int {
	f := number(m, keys...)
	if f == nil || *f != math.Trunc(*f) {
		return nil
	}
	i := int(*f)
	return &i
}
