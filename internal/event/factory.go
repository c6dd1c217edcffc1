package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/elastic-logger/internal/source"
)

// IDGenerator produces document identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Factory converts raw records into Trips.
type Factory struct {
	ids IDGenerator
}

// NewFactory creates a Factory. When ids is nil documents carry no ID and
// the store assigns one.
func NewFactory(ids IDGenerator) *Factory {
	return &Factory{ids: ids}
}

// nullMarkers are the spellings the upstream feed uses for missing values.
var nullMarkers = map[string]struct{}{"NULL": {}, `\N`: {}}

var errMissing = errors.New("missing field")

// FromRaw normalizes a record's JSON payload into a Trip. Feed field names are
// inconsistent ("Start Station ID" vs "startstationid"), so keys are
// lowercased and stripped of spaces before lookup.
func (f *Factory) FromRaw(rec source.Record) (*Trip, error) {
	fields, err := normalize(rec.Value)
	if err != nil {
		return nil, &MalformedRecordError{Raw: rec.Value, Err: err}
	}
	r := reader{fields: fields}

	trip := &Trip{
		TripDuration:     r.num("tripduration", false),
		StartTime:        isoTime(r.str("starttime")),
		StopTime:         isoTime(r.str("stoptime")),
		StartStationID:   r.num("startstationid", true),
		StartStationName: r.str("startstationname"),
		StartLocation:    r.location("startstationlatitude", "startstationlongitude"),
		EndStationID:     r.num("endstationid", true),
		EndStationName:   r.str("endstationname"),
		EndLocation:      r.location("endstationlatitude", "endstationlongitude"),
		BikeID:           r.num("bikeid", false),
		UserType:         r.str("usertype"),
		BirthYear:        r.num("birthyear", true),
		Gender:           r.num("gender", true),
	}
	if r.err != nil {
		return nil, &MalformedRecordError{Field: r.field, Raw: rec.Value, Err: r.err}
	}

	if f.ids != nil {
		id, err := f.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate document id: %w", err)
		}
		trip.ID = id
	}
	return trip, nil
}

// normalize decodes payload and folds its keys. A Caser is stateful, so each
// call builds its own.
func normalize(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if raw == nil {
		return nil, errors.New("payload is not a json object")
	}
	lower := cases.Lower(language.Und)
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[NormalizeKey(lower, k)] = v
	}
	return out, nil
}

// NormalizeKey lowercases key and removes spaces.
func NormalizeKey(lower cases.Caser, key string) string {
	return strings.ReplaceAll(lower.String(key), " ", "")
}

// isoTime turns "2019-01-01 00:01:47.4010" into "2019-01-01T00:01:47.4010".
func isoTime(s string) string {
	return strings.Join(strings.Split(s, " "), "T")
}

// reader pulls typed values from the normalized field map and remembers the
// first failure.
type reader struct {
	fields map[string]any
	field  string
	err    error
}

func (r *reader) fail(field string, err error) {
	if r.err == nil {
		r.field = field
		r.err = err
	}
}

func (r *reader) value(key string) (any, bool) {
	v, ok := r.fields[key]
	if !ok {
		r.fail(key, errMissing)
	}
	return v, ok
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, null := nullMarkers[strings.TrimSpace(s)]
	return null
}

func (r *reader) str(key string) string {
	v, ok := r.value(key)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		r.fail(key, fmt.Errorf("unexpected type %T", v))
		return ""
	}
}

func (r *reader) num(key string, nullable bool) int64 {
	v, ok := r.value(key)
	if !ok {
		return 0
	}
	if nullable && isNull(v) {
		return 0
	}
	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
	default:
		r.fail(key, fmt.Errorf("unexpected type %T", v))
		return 0
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n
	}
	fl, err := strconv.ParseFloat(text, 64)
	if err != nil {
		r.fail(key, fmt.Errorf("not a number: %q", text))
		return 0
	}
	return int64(fl)
}

func (r *reader) float(key string) (float64, bool) {
	v, ok := r.value(key)
	if !ok || isNull(v) {
		return 0, false
	}
	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
	default:
		r.fail(key, fmt.Errorf("unexpected type %T", v))
		return 0, false
	}
	fl, err := strconv.ParseFloat(text, 64)
	if err != nil {
		r.fail(key, fmt.Errorf("not a number: %q", text))
		return 0, false
	}
	return fl, true
}

// location reads a lat/lon pair; a NULL latitude zeroes the whole point.
func (r *reader) location(latKey, lonKey string) Location {
	lat, ok := r.float(latKey)
	lon, _ := r.float(lonKey)
	if !ok {
		return Location{}
	}
	return Location{Lat: lat, Lon: lon}
}
