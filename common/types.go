package common

import (
	"encoding/binary"
	"fmt"
)

const (
	// PageSize is the fixed size of every on-disk and in-memory page.
	PageSize int = 4096
	// IntSize is the storage width of an integer column.
	IntSize int = 8
	// StringLength is the fixed storage width of a string column.
	StringLength int = 32
)

// PageID identifies a page within the database file. IDs are allocated
// monotonically per buffer-pool instance and are never recycled.
type PageID int32

// InvalidPageID marks an unset or deallocated page reference.
const InvalidPageID PageID = -1

func (p PageID) IsValid() bool { return p != InvalidPageID }

func (p PageID) String() string { return fmt.Sprintf("page(%d)", int32(p)) }

// FrameID indexes a slot in a buffer-pool instance's frame array.
type FrameID int32

// InvalidFrameID marks the absence of a frame.
const InvalidFrameID FrameID = -1

// TxnID identifies a transaction. Younger transactions carry larger ids,
// which is what the wound-wait policy orders by.
type TxnID int32

// InvalidTxnID marks the absence of a transaction.
const InvalidTxnID TxnID = -1

// RID addresses a tuple as (page, slot). It is stable for the tuple's
// lifetime within its page.
type RID struct {
	PageID PageID
	Slot   int32
}

// RIDSize is the serialized size of a RID (page id (4) + slot (4)).
const RIDSize = 8

func (r RID) String() string { return fmt.Sprintf("rid(%d, %d)", int32(r.PageID), r.Slot) }

// WriteTo serializes the RID into the provided buffer.
func (r RID) WriteTo(data []byte) {
	Assert(len(data) >= RIDSize, "buffer too small for RID")
	binary.LittleEndian.PutUint32(data, uint32(r.PageID))
	binary.LittleEndian.PutUint32(data[4:], uint32(r.Slot))
}

// LoadRID deserializes a RID from the provided buffer.
func LoadRID(data []byte) RID {
	Assert(len(data) >= RIDSize, "buffer too small for RID")
	return RID{
		PageID: PageID(binary.LittleEndian.Uint32(data)),
		Slot:   int32(binary.LittleEndian.Uint32(data[4:])),
	}
}

// Type enumerates the column types supported by the storage layer.
type Type int8

const (
	// DefaultType is the zero value for uninitialized Values.
	DefaultType Type = iota
	IntType
	StringType
)

// Size returns the fixed-width storage size of the type in bytes.
func (t Type) Size() int {
	switch t {
	case IntType:
		return IntSize
	case StringType:
		return StringLength
	default:
		panic("unknown type")
	}
}

func (t Type) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	}
	return "unknown"
}

// Value is a deserialized data item in a tuple. Values are always safe,
// heap-owned copies; the storage layer copies bytes out of page buffers
// before a page latch is released.
type Value struct {
	t Type
	i int64
	s string
}

// NewIntValue creates an integer Value.
func NewIntValue(v int64) Value { return Value{t: IntType, i: v} }

// NewStringValue creates a string Value. The string must fit the fixed
// column width.
func NewStringValue(v string) Value {
	Assert(len(v) <= StringLength, "string too long: %d bytes", len(v))
	return Value{t: StringType, s: v}
}

// Type returns the type of the Value.
func (v Value) Type() Type { return v.t }

// IsNil returns true for the zero Value.
func (v Value) IsNil() bool { return v.t == DefaultType }

// IntValue returns the underlying integer.
func (v Value) IntValue() int64 {
	Assert(v.t == IntType, "type mismatch in IntValue")
	return v.i
}

// StringValue returns the underlying string.
func (v Value) StringValue() string {
	Assert(v.t == StringType, "type mismatch in StringValue")
	return v.s
}

// SizeInBytes returns the serialization size (fixed width).
func (v Value) SizeInBytes() int { return v.t.Size() }

// WriteTo serializes the Value into storage format.
func (v Value) WriteTo(data []byte) {
	Assert(len(data) >= v.SizeInBytes(), "buffer too small for value")
	switch v.t {
	case IntType:
		binary.LittleEndian.PutUint64(data, uint64(v.i))
	case StringType:
		n := copy(data, v.s)
		for i := n; i < StringLength; i++ {
			data[i] = 0
		}
	default:
		panic("cannot serialize uninitialized value")
	}
}

// LoadValue deserializes a Value of the given type from a storage buffer.
// The returned Value owns its data.
func LoadValue(t Type, data []byte) Value {
	switch t {
	case IntType:
		return NewIntValue(int64(binary.LittleEndian.Uint64(data)))
	case StringType:
		realLen := StringLength
		for i := 0; i < StringLength; i++ {
			if data[i] == 0 {
				realLen = i
				break
			}
		}
		return NewStringValue(string(data[:realLen]))
	}
	panic("unknown type")
}

// Compare returns -1 if v < other, 0 if equal, 1 if v > other.
func (v Value) Compare(other Value) int {
	Assert(v.t == other.t, "type mismatch in comparison")
	switch v.t {
	case IntType:
		switch {
		case v.i < other.i:
			return -1
		case v.i > other.i:
			return 1
		}
		return 0
	case StringType:
		switch {
		case v.s < other.s:
			return -1
		case v.s > other.s:
			return 1
		}
		return 0
	}
	panic("unreachable")
}
