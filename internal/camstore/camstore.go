// Package camstore implements the on-disk storage layout for recorded
// camera events: a date index per calendar day, one tracking CSV per
// (event, type) pair, and JPEG frame files, all rooted under a CSV root and
// an image root.
package camstore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/model"
)

// IndexFileName is the per-date index's fixed file name.
const IndexFileName = "camwatcher.csv"

// dateLayout is the date-folder naming convention, YYYY-MM-DD.
const dateLayout = "2006-01-02"

// frameTimeLayout renders an image frame's embedded timestamp:
// HH.MM.SS.ffffff
const frameTimeLayout = "15.04.05.000000"

var (
	// ErrNotFound is returned when a date, event, or frame simply doesn't
	// exist on disk — never fatal.
	ErrNotFound = errors.New("camstore: not found")
	// ErrTrackingSetEmpty distinguishes a present-but-zero-row tracking set
	// from ErrNotFound.
	ErrTrackingSetEmpty = errors.New("camstore: tracking set empty")
	// ErrImageSetEmpty distinguishes a present-but-zero-frame event from
	// ErrNotFound.
	ErrImageSetEmpty = errors.New("camstore: image set empty")
)

// Store roots the on-disk layout at a CSV root and an image root.
type Store struct {
	CSVRoot   string
	ImageRoot string
}

// New returns a Store rooted at csvRoot/imageRoot. Directories are created
// lazily by the writers.
func New(csvRoot, imageRoot string) *Store {
	return &Store{CSVRoot: csvRoot, ImageRoot: imageRoot}
}

// DateDir returns the CSV-root date folder for date (YYYY-MM-DD).
func (s *Store) DateDir(date string) string {
	return filepath.Join(s.CSVRoot, date)
}

// ImageDateDir returns the image-root date folder for date.
func (s *Store) ImageDateDir(date string) string {
	return filepath.Join(s.ImageRoot, date)
}

// IndexPath returns the path to a date's camwatcher.csv.
func (s *Store) IndexPath(date string) string {
	return filepath.Join(s.DateDir(date), IndexFileName)
}

// TrackingSetPath returns the path to one (event, type) tracking CSV.
func (s *Store) TrackingSetPath(date, eventID, typeTag string) string {
	return filepath.Join(s.DateDir(date), fmt.Sprintf("%s_%s.csv", eventID, typeTag))
}

// ImageFilePath returns the path an image frame for (event, ts) is, or
// would be, written to.
func (s *Store) ImageFilePath(date, eventID string, ts time.Time) string {
	return filepath.Join(s.ImageDateDir(date), ImageFileName(eventID, ts))
}

// ImageFileName renders the fixed naming convention
// {event_id}_{YYYY-MM-DD}_{HH.MM.SS.ffffff}.jpg.
func ImageFileName(eventID string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s.jpg", eventID, ts.Format(dateLayout), ts.Format(frameTimeLayout))
}

// GetDateList returns every date folder under CSVRoot, newest first.
func (s *Store) GetDateList() ([]string, error) {
	entries, err := os.ReadDir(s.CSVRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("camstore: list dates: %w", err)
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			if _, err := time.Parse(dateLayout, e.Name()); err == nil {
				dates = append(dates, e.Name())
			}
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// GetIndex reads every valid row of a date's camwatcher.csv. Malformed
// trailing lines (a crash mid-append) are skipped rather than erroring.
func (s *Store) GetIndex(date string) ([]model.DateIndexRow, error) {
	f, err := os.Open(s.IndexPath(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("camstore: open index: %w", err)
	}
	defer f.Close()

	return parseIndexLines(f)
}

// GetLastEvent returns the most recently indexed row for date, or
// ErrNotFound if the index is empty.
func (s *Store) GetLastEvent(date string) (model.DateIndexRow, error) {
	rows, err := s.GetIndex(date)
	if err != nil {
		return model.DateIndexRow{}, err
	}
	if len(rows) == 0 {
		return model.DateIndexRow{}, ErrNotFound
	}
	return rows[len(rows)-1], nil
}

// GetEventTypes returns the distinct type tags indexed for eventID on date.
func (s *Store) GetEventTypes(date, eventID string) ([]string, error) {
	rows, err := s.GetIndex(date)
	if err != nil {
		return nil, err
	}
	var types []string
	for _, r := range rows {
		if r.EventID == eventID {
			types = append(types, r.Type)
		}
	}
	if len(types) == 0 {
		return nil, ErrNotFound
	}
	return types, nil
}

// GetEventStart returns the start row (the "trk" index row, which is always
// written first) for eventID on date.
func (s *Store) GetEventStart(date, eventID string) (model.DateIndexRow, error) {
	rows, err := s.GetIndex(date)
	if err != nil {
		return model.DateIndexRow{}, err
	}
	for _, r := range rows {
		if r.EventID == eventID {
			return r, nil
		}
	}
	return model.DateIndexRow{}, ErrNotFound
}

func parseIndexLines(f *os.File) ([]model.DateIndexRow, error) {
	var rows []model.DateIndexRow

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		row, ok := parseIndexLine(line)
		if !ok {
			continue // skip malformed trailing line
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseIndexLine(line string) (model.DateIndexRow, bool) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 {
		return model.DateIndexRow{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[2])
	if err != nil {
		return model.DateIndexRow{}, false
	}
	width, err1 := strconv.Atoi(fields[4])
	height, err2 := strconv.Atoi(fields[5])
	if err1 != nil || err2 != nil {
		return model.DateIndexRow{}, false
	}
	return model.DateIndexRow{
		Node:      fields[0],
		ViewName:  fields[1],
		Timestamp: ts,
		EventID:   fields[3],
		Width:     width,
		Height:    height,
		Type:      fields[6],
	}, true
}

// AppendIndexRow appends one row to a date's camwatcher.csv, creating the
// date folder and file as needed. Appends are single lines and therefore
// atomic with respect to a crash between writes.
func (s *Store) AppendIndexRow(date string, row model.DateIndexRow) error {
	if err := os.MkdirAll(s.DateDir(date), 0o755); err != nil {
		return fmt.Errorf("camstore: create date dir: %w", err)
	}

	f, err := os.OpenFile(s.IndexPath(date), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("camstore: open index for append: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s,%s,%s,%s,%d,%d,%s\n",
		row.Node, row.ViewName, row.Timestamp.Format(time.RFC3339Nano),
		row.EventID, row.Width, row.Height, row.Type)
	_, err = f.WriteString(line)
	return err
}
