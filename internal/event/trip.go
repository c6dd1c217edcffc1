// Package event turns raw stream records into validated trip documents.
package event

// Location is a geo_point in lat/lon form.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Trip is one bike-share ride as persisted to the document store.
type Trip struct {
	// ID is the document identifier; it is not part of the document body.
	ID string `json:"-"`

	TripDuration     int64    `json:"tripduration"`
	StartTime        string   `json:"starttime"`
	StopTime         string   `json:"stoptime"`
	StartStationID   int64    `json:"start_station_id"`
	StartStationName string   `json:"start_station_name"`
	StartLocation    Location `json:"start_location"`
	EndStationID     int64    `json:"end_station_id"`
	EndStationName   string   `json:"end_station_name"`
	EndLocation      Location `json:"end_location"`
	BikeID           int64    `json:"bikeid"`
	UserType         string   `json:"usertype"`
	BirthYear        int64    `json:"birth_year"`
	Gender           int64    `json:"gender"`
}

// Schema is the index mapping for Trip documents.
var Schema = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"tripduration":       map[string]string{"type": "integer"},
			"starttime":          map[string]string{"type": "date"},
			"stoptime":           map[string]string{"type": "date"},
			"start_station_id":   map[string]string{"type": "integer"},
			"start_station_name": map[string]string{"type": "keyword"},
			"start_location":     map[string]string{"type": "geo_point"},
			"end_station_id":     map[string]string{"type": "integer"},
			"end_station_name":   map[string]string{"type": "keyword"},
			"end_location":       map[string]string{"type": "geo_point"},
			"bikeid":             map[string]string{"type": "integer"},
			"usertype":           map[string]string{"type": "keyword"},
			"birth_year":         map[string]string{"type": "integer"},
			"gender":             map[string]string{"type": "integer"},
		},
	},
}
