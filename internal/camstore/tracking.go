package camstore

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/model"
)

// TrackingCSVHeader is the on-disk column order. This is the order the
// original camwatcher.py CSVwriter actually emits on disk; the
// rect_x1,rect_x2,rect_y1,rect_y2 ordering seen in camdata.py's DataFrame
// column list is a read-side labeling quirk, not a second write format.
const TrackingCSVHeader = "timestamp,objid,classname,rect_x1,rect_y1,rect_x2,rect_y2"

// GetTrackingSet reads every record from a (event, type) tracking CSV,
// sorted ascending by timestamp (the file is append-only in that order
// already, but a defensive sort costs little and protects against any
// future out-of-order writer).
func (s *Store) GetTrackingSet(date, eventID, typeTag string) ([]model.TrackingRecord, error) {
	path := s.TrackingSetPath(date, eventID, typeTag)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("camstore: open tracking set: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var records []model.TrackingRecord
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if strings.HasPrefix(line, "timestamp,") {
				continue // skip header
			}
		}
		if line == "" {
			continue
		}
		rec, ok := parseTrackingLine(line)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrTrackingSetEmpty
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

func parseTrackingLine(line string) (model.TrackingRecord, bool) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 {
		return model.TrackingRecord{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[0])
	if err != nil {
		return model.TrackingRecord{}, false
	}
	x1, e1 := strconv.Atoi(fields[3])
	y1, e2 := strconv.Atoi(fields[4])
	x2, e3 := strconv.Atoi(fields[5])
	y2, e4 := strconv.Atoi(fields[6])
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		return model.TrackingRecord{}, false
	}
	return model.TrackingRecord{
		Timestamp: ts,
		ObjectID:  fields[1],
		ClassName: fields[2],
		Rect:      model.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2},
	}, true
}

// GetEventImages lists every image frame's timestamp for an event, in
// chronological order, by scanning the image date folder for files whose
// name is prefixed {eventID}_.
func (s *Store) GetEventImages(date, eventID string) ([]time.Time, error) {
	dir := s.ImageDateDir(date)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("camstore: list images: %w", err)
	}

	prefix := eventID + "_"
	var times []time.Time
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		ts, ok := parseImageFileName(name, eventID)
		if !ok {
			continue
		}
		times = append(times, ts)
	}

	if len(times) == 0 {
		return nil, ErrImageSetEmpty
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

func parseImageFileName(name, eventID string) (time.Time, bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, eventID+"_"), ".jpg")
	idx := strings.Index(trimmed, "_")
	if idx < 0 {
		return time.Time{}, false
	}
	datePart, timePart := trimmed[:idx], trimmed[idx+1:]
	ts, err := time.Parse(dateLayout+"_"+frameTimeLayout, datePart+"_"+timePart)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
