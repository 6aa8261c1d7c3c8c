package state

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueString
	ValueInt
	ValueFloat
	ValueBool
	ValueBytes
	ValueTime
)

// ActivityTimestampFormat matches the textual form the backend expects for
// naive SQL Server datetime values
const ActivityTimestampFormat = "2006-01-02T15:04:05.999999"

// Value - A single scalar column value as returned by the driver
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Bytes []byte
	Time  time.Time
}

func NullValue() Value { return Value{Kind: ValueNull} }
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }
func IntValue(i int64) Value { return Value{Kind: ValueInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: ValueFloat, Float: f} }
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }
func BytesValue(b []byte) Value { return Value{Kind: ValueBytes, Bytes: b} }
func TimeValue(t time.Time) Value { return Value{Kind: ValueTime, Time: t} }

// ValueFrom converts a raw driver value into a Value, keeping the driver's type
func ValueFrom(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case string:
		return StringValue(t)
	case []byte:
		// database/sql reuses scan buffers, so take a copy
		b := make([]byte, len(t))
		copy(b, t)
		return BytesValue(b)
	case int64:
		return IntValue(t)
	case int:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int16:
		return IntValue(int64(t))
	case int8:
		return IntValue(int64(t))
	case uint8:
		return IntValue(int64(t))
	case uint16:
		return IntValue(int64(t))
	case uint32:
		return IntValue(int64(t))
	case float64:
		return FloatValue(t)
	case float32:
		return FloatValue(float64(t))
	case bool:
		return BoolValue(t)
	case time.Time:
		return TimeValue(t)
	case *time.Time:
		if t == nil {
			return NullValue()
		}
		return TimeValue(*t)
	case fmt.Stringer:
		return StringValue(t.String())
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

func (v Value) IsNull() bool {
	return v.Kind == ValueNull
}

// String - Textual representation, as used in log output
func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueBytes:
		return bytesToText(v.Bytes)
	case ValueTime:
		return v.Time.Format(ActivityTimestampFormat)
	}
	return "<nil>"
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueInt:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case ValueFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.Float)
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueBytes:
		return json.Marshal(bytesToText(v.Bytes))
	case ValueTime:
		return json.Marshal(v.Time.Format(ActivityTimestampFormat))
	}
	return []byte("null"), nil
}

// Binary values that are not valid UTF-8 (e.g. uniqueidentifier columns) are
// emitted as hex so the payload stays valid JSON text
func bytesToText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return hex.EncodeToString(b)
}

// ActivityRow - One row of the live activity view, as an ordered column mapping
//
// The set of columns is determined by the server (the activity query selects
// r.* from sys.dm_exec_requests), so only a handful of columns are ever
// accessed by name.
type ActivityRow struct {
	keys   []string
	values map[string]Value
}

func NewActivityRow() *ActivityRow {
	return &ActivityRow{values: make(map[string]Value)}
}

// ActivityRowFromColumns builds a row from a column list and the matching raw
// driver values. When a column name repeats (the activity query joins several
// views that share column names) the later value wins unless it is null, and
// the key keeps the position of its first occurrence. Sessions without a
// running request thus keep their session status and session_id.
func ActivityRowFromColumns(columns []string, values []interface{}) *ActivityRow {
	row := &ActivityRow{keys: make([]string, 0, len(columns)), values: make(map[string]Value, len(columns))}
	for idx, column := range columns {
		var v interface{}
		if idx < len(values) {
			v = values[idx]
		}
		value := ValueFrom(v)
		if existing, ok := row.values[column]; ok && value.IsNull() && !existing.IsNull() {
			continue
		}
		row.Set(column, value)
	}
	return row
}

func (r *ActivityRow) Set(key string, v Value) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

func (r *ActivityRow) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

// GetString returns the string content of a column, and false if it is absent, null or not text
func (r *ActivityRow) GetString(key string) (string, bool) {
	v, ok := r.values[key]
	if !ok {
		return "", false
	}
	switch v.Kind {
	case ValueString:
		return v.Str, true
	case ValueBytes:
		return string(v.Bytes), true
	}
	return "", false
}

// GetTime returns the column as a timestamp, and false if it is absent, null or not a timestamp
func (r *ActivityRow) GetTime(key string) (time.Time, bool) {
	v, ok := r.values[key]
	if !ok || v.Kind != ValueTime {
		return time.Time{}, false
	}
	return v.Time, true
}

func (r *ActivityRow) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

func (r *ActivityRow) Clone() *ActivityRow {
	c := &ActivityRow{keys: r.Keys(), values: make(map[string]Value, len(r.values))}
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON encodes the row as a JSON object, in column order
func (r *ActivityRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for idx, key := range r.keys {
		if idx > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := r.values[key].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
