package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ColumnType names the element type of one Table column.
type ColumnType uint8

const (
	ColumnString ColumnType = iota + 1
	ColumnInt64
	ColumnFloat64
	ColumnTimestamp
)

// Table is a columnar, zstd-compressed wire encoding: a header of column
// names/types, followed by length-prefixed per-column blocks. It carries
// tabular payloads (tracking sets, query results) across the data-access
// and analytics-result wires without per-row framing overhead.
type Table struct {
	Columns []string
	Types   []ColumnType
	// Data holds one []interface{} per column, all the same length. Values
	// are string, int64, float64, or time.Time according to Types.
	Data [][]interface{}
}

// NumRows returns the row count, or 0 for a column-less table.
func (t *Table) NumRows() int {
	if len(t.Data) == 0 {
		return 0
	}
	return len(t.Data[0])
}

// EncodeTable serializes t into the columnar wire format and compresses it
// with zstd, matching the "compressed pickle" framing of the source's
// pickle_and_send helper.
func EncodeTable(t *Table) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(t.Columns))); err != nil {
		return nil, err
	}
	for i, name := range t.Columns {
		if err := writeString(&buf, name); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(t.Types[i])); err != nil {
			return nil, err
		}
	}

	rows := uint32(t.NumRows())
	if err := binary.Write(&buf, binary.LittleEndian, rows); err != nil {
		return nil, err
	}

	for col, typ := range t.Types {
		for _, v := range t.Data[col] {
			if err := writeValue(&buf, typ, v); err != nil {
				return nil, fmt.Errorf("column %q: %w", t.Columns[col], err)
			}
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(buf.Bytes(), nil), nil
}

// DecodeTable is the inverse of EncodeTable.
func DecodeTable(compressed []byte) (*Table, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}

	r := bytes.NewReader(raw)

	var numCols uint32
	if err := binary.Read(r, binary.LittleEndian, &numCols); err != nil {
		return nil, err
	}

	t := &Table{
		Columns: make([]string, numCols),
		Types:   make([]ColumnType, numCols),
	}
	for i := range t.Columns {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		typByte, err := readByte(r)
		if err != nil {
			return nil, err
		}
		t.Columns[i] = name
		t.Types[i] = ColumnType(typByte)
	}

	var rows uint32
	if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
		return nil, err
	}

	t.Data = make([][]interface{}, numCols)
	for col, typ := range t.Types {
		values := make([]interface{}, rows)
		for i := range values {
			v, err := readValue(r, typ)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", t.Columns[col], i, err)
			}
			values[i] = v
		}
		t.Data[col] = values
	}

	return t, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readByte(r io.Reader) (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeValue(w io.Writer, typ ColumnType, v interface{}) error {
	switch typ {
	case ColumnString:
		s, _ := v.(string)
		return writeString(w, s)
	case ColumnInt64:
		i, _ := v.(int64)
		return binary.Write(w, binary.LittleEndian, i)
	case ColumnFloat64:
		f, _ := v.(float64)
		return binary.Write(w, binary.LittleEndian, f)
	case ColumnTimestamp:
		ts, _ := v.(time.Time)
		return binary.Write(w, binary.LittleEndian, ts.UnixNano())
	default:
		return fmt.Errorf("unknown column type %d", typ)
	}
}

func readValue(r io.Reader, typ ColumnType) (interface{}, error) {
	switch typ {
	case ColumnString:
		return readString(r)
	case ColumnInt64:
		var i int64
		err := binary.Read(r, binary.LittleEndian, &i)
		return i, err
	case ColumnFloat64:
		var f float64
		err := binary.Read(r, binary.LittleEndian, &f)
		return f, err
	case ColumnTimestamp:
		var ns int64
		if err := binary.Read(r, binary.LittleEndian, &ns); err != nil {
			return nil, err
		}
		return time.Unix(0, ns).UTC(), nil
	default:
		return nil, fmt.Errorf("unknown column type %d", typ)
	}
}
