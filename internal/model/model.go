// Package model defines the shared, wire- and disk-format-agnostic types
// that flow between the ingest dispatcher, the data-access service, and the
// analytics scheduler.
package model

import (
	"fmt"
	"time"
)

// Rect is an axis-aligned detection bounding box.
type Rect struct {
	X1 int `msgpack:"rect_x1"`
	Y1 int `msgpack:"rect_y1"`
	X2 int `msgpack:"rect_x2"`
	Y2 int `msgpack:"rect_y2"`
}

// CamSize is a view's fixed frame dimensions.
type CamSize struct {
	Width  int
	Height int
}

// TrackingRecord is one row of a tracking-set CSV: a single detection at a
// point in time. Elapsed is derived at read time (evt command), not stored.
type TrackingRecord struct {
	Timestamp time.Time
	ObjectID  string
	ClassName string
	Rect      Rect
}

// Elapsed returns the offset of r from the event's start timestamp.
func (r TrackingRecord) Elapsed(eventStart time.Time) time.Duration {
	return r.Timestamp.Sub(eventStart)
}

// DateIndexRow is one row of a day's camwatcher.csv: one per (event, type)
// pair.
type DateIndexRow struct {
	Node      string
	ViewName  string
	Timestamp time.Time
	EventID   string
	Width     int
	Height    int
	Type      string
}

// Well-known tracking-set type tags. "trk" is the primary motion track;
// everything else is an analytic overlay written by a scheduled task.
const (
	TypeTrk = "trk"
	TypeObj = "obj"
	TypeFd1 = "fd1"
	TypeFr1 = "fr1"
	TypeVsp = "vsp"
)

// TrackingMessage is the tagged variant the ingest dispatcher parses a raw
// outpost log payload into. Exactly one of Start, Trk, End is non-nil.
// Only the dispatcher consumes this typed form; it turns each message into
// csvwriter records, so nothing past the ingress parse handles the untyped
// map the outpost actually publishes.
type TrackingMessage struct {
	Start *StartMsg
	Trk   *TrkMsg
	End   *EndMsg
}

// StartMsg opens an event.
type StartMsg struct {
	EventID   string
	View      string
	FPS       float64
	CamSize   CamSize
	Timestamp time.Time
}

// TrkMsg reports one detection within an active event.
type TrkMsg struct {
	EventID   string
	View      string
	ObjectID  string
	ClassName string
	Rect      Rect
	Timestamp time.Time
	// TypeTag names the tracking set this record belongs to; "trk" for the
	// outpost's own primary track, or an analytic tag for scheduler results.
	TypeTag string
}

// EndMsg closes an event.
type EndMsg struct {
	EventID string
	View    string
}

// rawTrackingMessage mirrors the loosely typed map an outpost actually
// publishes: {evt|type: start|trk|end, id, view, ...}.
type rawTrackingMessage struct {
	Evt       string    `msgpack:"evt"`
	EvtAlt    string    `msgpack:"type"`
	ID        string    `msgpack:"id"`
	View      string    `msgpack:"view"`
	FPS       float64   `msgpack:"fps"`
	CamSize   []int     `msgpack:"camsize"`
	Obj       string    `msgpack:"obj"`
	Clas      string    `msgpack:"clas"`
	Rect      []int     `msgpack:"rect"`
	Timestamp time.Time `msgpack:"timestamp"`
}

// ParseTrackingMessage decodes the generic map shape the outpost publishes
// into the TrackingMessage tagged variant, replacing run-time type-field
// inspection downstream with a single parse at the ingress boundary.
func ParseTrackingMessage(raw map[string]interface{}) (TrackingMessage, error) {
	evt, _ := raw["evt"].(string)
	if evt == "" {
		evt, _ = raw["type"].(string)
	}
	if evt == "" {
		return TrackingMessage{}, fmt.Errorf("tracking message missing evt/type field")
	}

	id, _ := raw["id"].(string)
	view, _ := raw["view"].(string)
	if id == "" || view == "" {
		return TrackingMessage{}, fmt.Errorf("tracking message %q missing id or view", evt)
	}

	switch evt {
	case "start":
		w, h := intField(raw, "camsize", 0), intField(raw, "camsize", 1)
		ts, _ := raw["timestamp"].(time.Time)
		return TrackingMessage{Start: &StartMsg{
			EventID:   id,
			View:      view,
			FPS:       floatField(raw, "fps"),
			CamSize:   CamSize{Width: w, Height: h},
			Timestamp: ts,
		}}, nil
	case "trk":
		x1, y1 := intField(raw, "rect", 0), intField(raw, "rect", 1)
		x2, y2 := intField(raw, "rect", 2), intField(raw, "rect", 3)
		obj, _ := raw["obj"].(string)
		clas, _ := raw["clas"].(string)
		ts, _ := raw["timestamp"].(time.Time)
		return TrackingMessage{Trk: &TrkMsg{
			EventID:   id,
			View:      view,
			ObjectID:  obj,
			ClassName: clas,
			Rect:      Rect{X1: x1, Y1: y1, X2: x2, Y2: y2},
			Timestamp: ts,
			TypeTag:   TypeTrk,
		}}, nil
	case "end":
		return TrackingMessage{End: &EndMsg{EventID: id, View: view}}, nil
	default:
		return TrackingMessage{}, fmt.Errorf("unknown tracking message category %q", evt)
	}
}

func intField(raw map[string]interface{}, key string, idx int) int {
	seq, ok := raw[key].([]interface{})
	if !ok || idx >= len(seq) {
		return 0
	}
	switch v := seq[idx].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatField(raw map[string]interface{}, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
