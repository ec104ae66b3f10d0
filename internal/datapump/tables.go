package datapump

import (
	"time"

	"github.com/sentinelcam/sentinelcam/internal/model"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

func indexTable(rows []model.DateIndexRow) *wire.Table {
	t := &wire.Table{
		Columns: []string{"node", "viewname", "timestamp", "event_id", "width", "height", "type"},
		Types: []wire.ColumnType{
			wire.ColumnString, wire.ColumnString, wire.ColumnTimestamp,
			wire.ColumnString, wire.ColumnInt64, wire.ColumnInt64, wire.ColumnString,
		},
	}
	cols := make([][]interface{}, 7)
	for i := range cols {
		cols[i] = make([]interface{}, len(rows))
	}
	for i, r := range rows {
		cols[0][i] = r.Node
		cols[1][i] = r.ViewName
		cols[2][i] = r.Timestamp
		cols[3][i] = r.EventID
		cols[4][i] = int64(r.Width)
		cols[5][i] = int64(r.Height)
		cols[6][i] = r.Type
	}
	t.Data = cols
	return t
}

// trackingTable renders a tracking set's records sorted by timestamp
// ascending, with a derived elapsed column (timestamp - event_start).
func trackingTable(records []model.TrackingRecord, eventStart time.Time) *wire.Table {
	t := &wire.Table{
		Columns: []string{"timestamp", "objid", "classname", "rect_x1", "rect_y1", "rect_x2", "rect_y2", "elapsed"},
		Types: []wire.ColumnType{
			wire.ColumnTimestamp, wire.ColumnString, wire.ColumnString,
			wire.ColumnInt64, wire.ColumnInt64, wire.ColumnInt64, wire.ColumnInt64,
			wire.ColumnInt64, // elapsed, as nanoseconds
		},
	}
	cols := make([][]interface{}, 8)
	for i := range cols {
		cols[i] = make([]interface{}, len(records))
	}
	for i, r := range records {
		cols[0][i] = r.Timestamp
		cols[1][i] = r.ObjectID
		cols[2][i] = r.ClassName
		cols[3][i] = int64(r.Rect.X1)
		cols[4][i] = int64(r.Rect.Y1)
		cols[5][i] = int64(r.Rect.X2)
		cols[6][i] = int64(r.Rect.Y2)
		cols[7][i] = int64(r.Elapsed(eventStart))
	}
	t.Data = cols
	return t
}

func imageTable(times []time.Time) *wire.Table {
	t := &wire.Table{Columns: []string{"timestamp"}, Types: []wire.ColumnType{wire.ColumnTimestamp}}
	values := make([]interface{}, len(times))
	for i, ts := range times {
		values[i] = ts
	}
	t.Data = [][]interface{}{values}
	return t
}
