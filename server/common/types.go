package common

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Rid addresses a record inside a heap file.
type Rid struct {
	PageNo int
	SlotNo int
}

// PageID identifies a page across all open files.
type PageID struct {
	Fd     int
	PageNo int
}

// Iid is a cursor position inside a B+-tree: a leaf page and a key slot.
type Iid struct {
	PageNo int
	SlotNo int
}

// ColType enumerates the fixed-width column types.
type ColType int

const (
	TypeInt ColType = iota
	TypeBigInt
	TypeFloat
	TypeString
	TypeDatetime
)

func (t ColType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeBigInt:
		return "BIGINT"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "CHAR"
	case TypeDatetime:
		return "DATETIME"
	}
	return "UNKNOWN"
}

// CompOp enumerates the comparison operators of the WHERE clause.
type CompOp int

const (
	OpEq CompOp = iota
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
)

func (op CompOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpGt:
		return ">"
	case OpLe:
		return "<="
	case OpGe:
		return ">="
	}
	return "?"
}

// Swap mirrors the operator for a swapped operand order.
func (op CompOp) Swap() CompOp {
	switch op {
	case OpLt:
		return OpGt
	case OpGt:
		return OpLt
	case OpLe:
		return OpGe
	case OpGe:
		return OpLe
	}
	return op
}

// TabCol names a column, optionally qualified by its table.
type TabCol struct {
	TabName string
	ColName string
}

// Condition is one conjunct of a WHERE clause. The right-hand side is either
// a literal value or another column.
type Condition struct {
	LhsCol   TabCol
	Op       CompOp
	IsRhsVal bool
	RhsCol   TabCol
	RhsVal   Value
}

// SetClause is one assignment of an UPDATE statement. When IsIncr is set the
// right-hand side is added to the current column value.
type SetClause struct {
	Lhs    TabCol
	Rhs    Value
	IsIncr bool
}

// AggFunc is an aggregate selector of a SELECT list.
type AggFunc struct {
	Func  string // SUM, MAX, MIN, COUNT, COUNT*
	Col   TabCol
	Alias string
}

// Value is a typed SQL literal or a decoded column value.
type Value struct {
	Type      ColType
	IntVal    int32
	BigIntVal int64
	FloatVal  float32
	StrVal    string // CHAR and DATETIME payload
	Raw       []byte
}

func (v *Value) SetInt(i int32) {
	v.Type = TypeInt
	v.IntVal = i
}

func (v *Value) SetBigInt(i int64) {
	v.Type = TypeBigInt
	v.BigIntVal = i
}

func (v *Value) SetFloat(f float32) {
	v.Type = TypeFloat
	v.FloatVal = f
}

func (v *Value) SetStr(s string) {
	v.Type = TypeString
	v.StrVal = s
}

func (v *Value) SetDatetime(s string) {
	v.Type = TypeDatetime
	v.StrVal = s
}

// Cast widens the value to the target column type. Only int->bigint,
// int->float and string->datetime conversions are allowed; everything else
// is an IncompatibleType error.
func (v *Value) Cast(target ColType) error {
	if v.Type == target {
		return nil
	}
	switch {
	case v.Type == TypeInt && target == TypeBigInt:
		v.SetBigInt(int64(v.IntVal))
	case v.Type == TypeInt && target == TypeFloat:
		v.SetFloat(float32(v.IntVal))
	case v.Type == TypeString && target == TypeDatetime:
		if len(v.StrVal) > DatetimeLen {
			return errors.Wrapf(ErrStringOverflow, "datetime %q", v.StrVal)
		}
		v.SetDatetime(v.StrVal)
	default:
		return errors.Wrapf(ErrIncompatibleType, "cannot convert %s to %s", v.Type, target)
	}
	return nil
}

// InitRaw encodes the value into its fixed-width on-disk form.
func (v *Value) InitRaw(length int) error {
	buf := make([]byte, length)
	switch v.Type {
	case TypeInt:
		binary.LittleEndian.PutUint32(buf, uint32(v.IntVal))
	case TypeBigInt:
		binary.LittleEndian.PutUint64(buf, uint64(v.BigIntVal))
	case TypeFloat:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v.FloatVal))
	case TypeString, TypeDatetime:
		if len(v.StrVal) > length {
			return errors.Wrapf(ErrStringOverflow, "%q exceeds CHAR(%d)", v.StrVal, length)
		}
		copy(buf, v.StrVal)
	}
	v.Raw = buf
	return nil
}

// DecodeValue reads a fixed-width column payload back into a Value.
func DecodeValue(t ColType, data []byte) Value {
	var v Value
	switch t {
	case TypeInt:
		v.SetInt(int32(binary.LittleEndian.Uint32(data)))
	case TypeBigInt:
		v.SetBigInt(int64(binary.LittleEndian.Uint64(data)))
	case TypeFloat:
		v.SetFloat(math.Float32frombits(binary.LittleEndian.Uint32(data)))
	case TypeString:
		v.SetStr(strings.TrimRight(string(data), "\x00"))
	case TypeDatetime:
		v.SetDatetime(strings.TrimRight(string(data), "\x00"))
	}
	return v
}

// String renders the value the way result sets print it.
func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return strconv.FormatInt(int64(v.IntVal), 10)
	case TypeBigInt:
		return strconv.FormatInt(v.BigIntVal, 10)
	case TypeFloat:
		return strconv.FormatFloat(float64(v.FloatVal), 'g', -1, 32)
	case TypeString, TypeDatetime:
		return v.StrVal
	}
	return ""
}

// CompareCol compares two encoded column payloads of the same type using the
// column's native ordering. Shared by the B+-tree and the sort executor.
func CompareCol(t ColType, a, b []byte) int {
	switch t {
	case TypeInt:
		x := int32(binary.LittleEndian.Uint32(a))
		y := int32(binary.LittleEndian.Uint32(b))
		return compareOrdered(x, y)
	case TypeBigInt:
		x := int64(binary.LittleEndian.Uint64(a))
		y := int64(binary.LittleEndian.Uint64(b))
		return compareOrdered(x, y)
	case TypeFloat:
		x := math.Float32frombits(binary.LittleEndian.Uint32(a))
		y := math.Float32frombits(binary.LittleEndian.Uint32(b))
		return compareOrdered(x, y)
	default:
		// CHAR and DATETIME order bytewise.
		for i := 0; i < len(a) && i < len(b); i++ {
			if a[i] != b[i] {
				if a[i] < b[i] {
					return -1
				}
				return 1
			}
		}
		return 0
	}
}

func compareOrdered[T int32 | int64 | float32](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CompareKeys compares two concatenated index keys column by column,
// lexicographically across the column list.
func CompareKeys(types []ColType, lens []int, a, b []byte) int {
	off := 0
	for i, t := range types {
		if cmp := CompareCol(t, a[off:off+lens[i]], b[off:off+lens[i]]); cmp != 0 {
			return cmp
		}
		off += lens[i]
	}
	return 0
}

// MinColBytes encodes the smallest value of a column type.
func MinColBytes(t ColType, l int) []byte {
	buf := make([]byte, l)
	switch t {
	case TypeInt:
		var v32 int32 = math.MinInt32
		binary.LittleEndian.PutUint32(buf, uint32(v32))
	case TypeBigInt:
		var v64 int64 = math.MinInt64
		binary.LittleEndian.PutUint64(buf, uint64(v64))
	case TypeFloat:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(math.Inf(-1))))
	}
	// CHAR and DATETIME: all zero bytes already sort first.
	return buf
}

// MaxColBytes encodes the largest value of a column type.
func MaxColBytes(t ColType, l int) []byte {
	buf := make([]byte, l)
	switch t {
	case TypeInt:
		binary.LittleEndian.PutUint32(buf, uint32(int32(math.MaxInt32)))
	case TypeBigInt:
		binary.LittleEndian.PutUint64(buf, uint64(int64(math.MaxInt64)))
	case TypeFloat:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(math.Inf(1))))
	default:
		for i := range buf {
			buf[i] = 0xff
		}
	}
	return buf
}

// Compare compares two values after numeric widening. Comparable pairs are:
// same type, int/bigint, int/float, bigint/float, string/datetime.
func (v Value) Compare(other Value) (int, error) {
	if v.Type == other.Type {
		switch v.Type {
		case TypeInt:
			return compareOrdered(v.IntVal, other.IntVal), nil
		case TypeBigInt:
			return compareOrdered(v.BigIntVal, other.BigIntVal), nil
		case TypeFloat:
			return compareOrdered(v.FloatVal, other.FloatVal), nil
		default:
			return strings.Compare(v.StrVal, other.StrVal), nil
		}
	}
	if v.isNumeric() && other.isNumeric() {
		if v.Type == TypeFloat || other.Type == TypeFloat {
			return compareOrdered(v.asFloat(), other.asFloat()), nil
		}
		return compareOrdered(v.asBigInt(), other.asBigInt()), nil
	}
	if v.isText() && other.isText() {
		return strings.Compare(v.StrVal, other.StrVal), nil
	}
	return 0, errors.Wrapf(ErrIncompatibleType, "cannot compare %s with %s", v.Type, other.Type)
}

func (v Value) isNumeric() bool {
	return v.Type == TypeInt || v.Type == TypeBigInt || v.Type == TypeFloat
}

func (v Value) isText() bool {
	return v.Type == TypeString || v.Type == TypeDatetime
}

func (v Value) asFloat() float32 {
	switch v.Type {
	case TypeInt:
		return float32(v.IntVal)
	case TypeBigInt:
		return float32(v.BigIntVal)
	}
	return v.FloatVal
}

func (v Value) asBigInt() int64 {
	if v.Type == TypeInt {
		return int64(v.IntVal)
	}
	return v.BigIntVal
}

// EvalCompare applies a comparison operator to the sign of a compare.
func EvalCompare(op CompOp, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpGt:
		return cmp > 0
	case OpLe:
		return cmp <= 0
	case OpGe:
		return cmp >= 0
	}
	return false
}
