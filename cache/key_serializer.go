package cache

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// MaxSegmentLength is the longest serialized argument kept verbatim in a key.
// Longer segments (large criteria structs, raw SQL) are replaced by their xxhash digest.
const MaxSegmentLength = 128

// CacheKeyer lets a value provide its own stable key segment. Query criteria
// implement it so keys survive process restarts, which function pointers do not.
type CacheKeyer interface {
	CacheKey() string
}

// defaultKeySerializer implements KeySerializer using reflection-based serialization.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds a cache key from method name and args.
func (s *defaultKeySerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return method
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)

	for _, arg := range args {
		parts = append(parts, compactSegment(s.serializeValue(arg)))
	}

	return strings.Join(parts, KeySeparator)
}

// HashKey joins the parts and returns a fixed width hexadecimal xxhash digest.
func HashKey(parts ...string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(parts, KeySeparator)), 16)
}

func compactSegment(segment string) string {
	if len(segment) <= MaxSegmentLength {
		return segment
	}
	return "h:" + HashKey(segment)
}

func (s *defaultKeySerializer) serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	if rt.Kind() == reflect.Ptr && rv.IsNil() {
		return "nil"
	}

	// Self describing values win over structural reflection: time.Time, uuid.UUID
	// and decimal.Decimal all hide their state in unexported fields.
	switch tv := v.(type) {
	case CacheKeyer:
		return tv.CacheKey()
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		if rt.Kind() != reflect.Func {
			return tv.String()
		}
	case encoding.TextMarshaler:
		if text, err := tv.MarshalText(); err == nil {
			return string(text)
		}
	}

	switch rt.Kind() {
	case reflect.Func:
		return fmt.Sprintf("func:%p", v)
	case reflect.Ptr:
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return fmt.Sprintf("slice[%d]:{%s}", rv.Len(), s.serializeElements(rv))
	case reflect.Array:
		return fmt.Sprintf("array[%d]:{%s}", rv.Len(), s.serializeElements(rv))
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv, rt)
	case reflect.Chan:
		return fmt.Sprintf("chan:%p", v)
	case reflect.Interface:
		if rv.IsNil() {
			return "interface:nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	}

	if isBasicKind(rt.Kind()) {
		return fmt.Sprintf("%v", v)
	}

	return s.jsonFallback(v)
}

func (s *defaultKeySerializer) serializeElements(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = s.serializeValue(rv.Index(i).Interface())
	}
	return strings.Join(parts, ",")
}

// serializeMap sorts the serialized pairs so map iteration order never leaks into keys.
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, s.serializeValue(iter.Key().Interface())+"="+s.serializeValue(iter.Value().Interface()))
	}
	sort.Strings(pairs)
	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

func (s *defaultKeySerializer) serializeStruct(rv reflect.Value, rt reflect.Type) string {
	parts := make([]string, 0, rv.NumField())

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldValue := rv.Field(i)
		if !fieldValue.CanInterface() {
			continue
		}
		parts = append(parts, field.Name+":"+s.serializeValue(fieldValue.Interface()))
	}

	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

func isBasicKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "fallback:" + reflect.TypeOf(v).String()
	}
	return "json:" + string(data)
}
