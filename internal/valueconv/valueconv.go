// Package valueconv normalizes raw database/sql column values into values that render
// the same way for every engine (and marshal cleanly to JSON for the agent).
package valueconv

import (
	"database/sql"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DateTimeLayout is used for timestamps without a more specific column type.
const DateTimeLayout = "2006-01-02 15:04:05.999999999"

// binaryTypes are database type names whose []byte values are never treated as text.
var binaryTypes = map[string]bool{
	"BLOB":       true,
	"TINYBLOB":   true,
	"MEDIUMBLOB": true,
	"LONGBLOB":   true,
	"BINARY":     true,
	"VARBINARY":  true,
	"BYTEA":      true,
	"GEOMETRY":   true,
}

// Default is the fallback value processor.
type Default struct{}

// Convert maps raw to its normalized form. typeName is the driver's database type name
// for the column and may be empty.
func (Default) Convert(typeName string, raw any) any {
	typeName = strings.ToUpper(typeName)
	switch v := raw.(type) {
	case nil:
		return nil
	case []byte:
		return Bytes(typeName, v)
	case sql.RawBytes:
		return Bytes(typeName, v)
	case time.Time:
		return Time(typeName, v)
	case float64:
		return Float(v)
	case float32:
		return Float(float64(v))
	case sql.NullString:
		if !v.Valid {
			return nil
		}
		return v.String
	default:
		return v
	}
}

// Bytes renders text as a string and binary data as 0x-prefixed hex.
func Bytes(typeName string, b []byte) any {
	if b == nil {
		return nil
	}
	if binaryTypes[typeName] || !utf8.Valid(b) {
		return "0x" + hex.EncodeToString(b)
	}
	return string(b)
}

// Time formats t according to the column type.
func Time(typeName string, t time.Time) string {
	switch typeName {
	case "DATE":
		return t.Format(time.DateOnly)
	case "TIME", "TIMETZ":
		return t.Format("15:04:05.999999999")
	case "TIMESTAMPTZ":
		return t.Format(time.RFC3339Nano)
	}
	return t.Format(DateTimeLayout)
}

// Float keeps finite values and spells out NaN and the infinities.
func Float(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
