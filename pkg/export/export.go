// Package export writes the tracking history of a delivery as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Write encodes entries in format f.
func Write(w io.Writer, f Format, entries []model.TrackingEntry) error {
	switch f {
	case FormatJSON, "":
		return WriteJSON(w, entries)
	case FormatCSV:
		return WriteCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// WriteJSON writes the history to w as a JSON array.
func WriteJSON(w io.Writer, entries []model.TrackingEntry) error {
	if entries == nil {
		entries = []model.TrackingEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// WriteCSV writes one row per history entry. Entries without a location
// leave the coordinate columns empty.
func WriteCSV(w io.Writer, entries []model.TrackingEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "status", "lat", "lng", "address", "actor", "note"}); err != nil {
		return err
	}
	for _, e := range entries {
		lat, lng, addr := "", "", ""
		if e.Location != nil && len(e.Location.Coordinates) == 2 {
			lat = strconv.FormatFloat(e.Location.Lat(), 'f', -1, 64)
			lng = strconv.FormatFloat(e.Location.Lng(), 'f', -1, 64)
			addr = e.Location.Address
		}
		rec := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Status),
			lat, lng, addr,
			e.Actor,
			e.Note,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
