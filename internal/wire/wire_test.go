package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	req := map[string]interface{}{"cmd": "idx", "date": "2026-07-31"}

	data, err := Pack(req)
	require.NoError(t, err)

	got, err := UnpackMap(data)
	require.NoError(t, err)
	assert.Equal(t, "idx", got["cmd"])
	assert.Equal(t, "2026-07-31", got["date"])
}

func TestTableRoundTrip(t *testing.T) {
	start := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	table := &Table{
		Columns: []string{"timestamp", "objid", "classname"},
		Types:   []ColumnType{ColumnTimestamp, ColumnString, ColumnString},
		Data: [][]interface{}{
			{start, start.Add(time.Second)},
			{"1", "2"},
			{"person", "car"},
		},
	}

	encoded, err := EncodeTable(table)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	decoded, err := DecodeTable(encoded)
	require.NoError(t, err)
	require.Equal(t, table.Columns, decoded.Columns)
	require.Equal(t, 2, decoded.NumRows())
	assert.Equal(t, "person", decoded.Data[2][0])
	assert.WithinDuration(t, start, decoded.Data[0][0].(time.Time), time.Microsecond)
}

func TestEmptyTableRoundTrip(t *testing.T) {
	table := &Table{
		Columns: []string{"timestamp"},
		Types:   []ColumnType{ColumnTimestamp},
		Data:    [][]interface{}{{}},
	}

	encoded, err := EncodeTable(table)
	require.NoError(t, err)

	decoded, err := DecodeTable(encoded)
	require.NoError(t, err)
	assert.Equal(t, 0, decoded.NumRows())
}
