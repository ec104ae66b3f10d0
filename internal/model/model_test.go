package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrackingMessage_Start(t *testing.T) {
	raw := map[string]interface{}{
		"evt":     "start",
		"id":      "E1",
		"view":    "front",
		"fps":     15.0,
		"camsize": []interface{}{640, 360},
	}

	msg, err := ParseTrackingMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.Start)
	assert.Nil(t, msg.Trk)
	assert.Nil(t, msg.End)
	assert.Equal(t, "E1", msg.Start.EventID)
	assert.Equal(t, CamSize{Width: 640, Height: 360}, msg.Start.CamSize)
}

func TestParseTrackingMessage_Trk(t *testing.T) {
	now := time.Now()
	raw := map[string]interface{}{
		"type":      "trk",
		"id":        "E1",
		"view":      "front",
		"obj":       "1",
		"clas":      "person",
		"rect":      []interface{}{10, 20, 30, 40},
		"timestamp": now,
	}

	msg, err := ParseTrackingMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.Trk)
	assert.Equal(t, "person", msg.Trk.ClassName)
	assert.Equal(t, Rect{X1: 10, Y1: 20, X2: 30, Y2: 40}, msg.Trk.Rect)
	assert.Equal(t, TypeTrk, msg.Trk.TypeTag)
}

func TestParseTrackingMessage_End(t *testing.T) {
	raw := map[string]interface{}{"evt": "end", "id": "E1", "view": "front"}

	msg, err := ParseTrackingMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.End)
	assert.Equal(t, "E1", msg.End.EventID)
}

func TestParseTrackingMessage_Errors(t *testing.T) {
	_, err := ParseTrackingMessage(map[string]interface{}{"id": "E1", "view": "front"})
	assert.Error(t, err, "missing evt/type should error")

	_, err = ParseTrackingMessage(map[string]interface{}{"evt": "start", "view": "front"})
	assert.Error(t, err, "missing id should error")

	_, err = ParseTrackingMessage(map[string]interface{}{"evt": "bogus", "id": "E1", "view": "front"})
	assert.Error(t, err, "unknown category should error")
}

func TestTrackingRecordElapsed(t *testing.T) {
	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	rec := TrackingRecord{Timestamp: start.Add(2 * time.Second)}
	assert.Equal(t, 2*time.Second, rec.Elapsed(start))
}
