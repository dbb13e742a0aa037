package execution

import (
	"github.com/kestreldb/kestrel/common"
)

// Schema describes the fixed-width columns of a table. Row layout is a
// simple concatenation of column storage images.
type Schema struct {
	types   []common.Type
	offsets []int
	rowSize int
}

// NewSchema builds a schema from column types in declaration order.
func NewSchema(types ...common.Type) *Schema {
	common.Assert(len(types) > 0, "schema needs at least one column")
	s := &Schema{
		types:   types,
		offsets: make([]int, len(types)),
	}
	offset := 0
	for i, t := range types {
		s.offsets[i] = offset
		offset += t.Size()
	}
	s.rowSize = common.Align8(offset)
	return s
}

// NumColumns returns the column count.
func (s *Schema) NumColumns() int { return len(s.types) }

// TypeOf returns the type of column i.
func (s *Schema) TypeOf(i int) common.Type { return s.types[i] }

// RowSize returns the byte width of one serialized row, padded for
// alignment.
func (s *Schema) RowSize() int { return s.rowSize }

// Serialize writes values into row, which must be RowSize bytes.
func (s *Schema) Serialize(row []byte, values []common.Value) {
	common.Assert(len(row) == s.rowSize, "row buffer size mismatch")
	common.Assert(len(values) == len(s.types), "value count mismatch")
	for i, v := range values {
		common.Assert(v.Type() == s.types[i], "column %d type mismatch", i)
		v.WriteTo(row[s.offsets[i]:])
	}
}

// Deserialize reads a row into freshly-owned values.
func (s *Schema) Deserialize(row []byte) []common.Value {
	common.Assert(len(row) == s.rowSize, "row buffer size mismatch")
	values := make([]common.Value, len(s.types))
	for i, t := range s.types {
		values[i] = common.LoadValue(t, row[s.offsets[i]:])
	}
	return values
}

// Tuple is a deserialized row plus the rid it came from. Joined or derived
// tuples carry a zero rid.
type Tuple struct {
	Values []common.Value
	RID    common.RID
}

// Column returns the value of column i.
func (t Tuple) Column(i int) common.Value { return t.Values[i] }
