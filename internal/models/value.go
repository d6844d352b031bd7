package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind тег значения измерения
type ValueKind uint8

const (
	// ValueMissing значение отсутствует
	ValueMissing ValueKind = iota
	// ValueNumber числовое значение
	ValueNumber
	// ValueInvalid значение присутствует, но не приводится к числу
	ValueInvalid
)

// Value представляет значение измерения как tagged union {Number, Missing, Invalid}.
// Ошибка приведения типа сохраняется явно, а не превращается в NaN.
type Value struct {
	Kind ValueKind
	Num  float64
	Raw  string
}

// Number создает числовое значение. NaN трактуется как отсутствие значения.
func Number(v float64) Value {
	if math.IsNaN(v) {
		return Missing()
	}
	return Value{Kind: ValueNumber, Num: v}
}

// Missing создает отсутствующее значение
func Missing() Value {
	return Value{Kind: ValueMissing}
}

// Invalid создает значение, которое не удалось привести к числу
func Invalid(raw string) Value {
	return Value{Kind: ValueInvalid, Raw: raw}
}

// ParseValue приводит строку к Value: пустая строка и "nan"/"null" - Missing,
// числовая строка ("1", "1.0") - Number, все остальное - Invalid.
func ParseValue(raw string) Value {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return Missing()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Invalid(raw)
	}
	return Number(f)
}

// IsMissing возвращает true для отсутствующего значения
func (v Value) IsMissing() bool {
	return v.Kind == ValueMissing
}

// IsNumber возвращает true для числового значения
func (v Value) IsNumber() bool {
	return v.Kind == ValueNumber
}

// IsInvalid возвращает true, если значение не приводится к числу
func (v Value) IsInvalid() bool {
	return v.Kind == ValueInvalid
}

// Float возвращает число и признак его наличия
func (v Value) Float() (float64, bool) {
	if v.Kind != ValueNumber {
		return math.NaN(), false
	}
	return v.Num, true
}

// Equal сравнивает два значения с учетом тега
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueNumber:
		return v.Num == o.Num
	case ValueInvalid:
		return v.Raw == o.Raw
	default:
		return true
	}
}

// String возвращает текстовое представление значения
func (v Value) String() string {
	switch v.Kind {
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case ValueInvalid:
		return v.Raw
	default:
		return "NaN"
	}
}

// MarshalJSON кодирует Number как число, Missing как null, Invalid как исходную строку
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		if math.IsInf(v.Num, 0) {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.Num)
	case ValueInvalid:
		return json.Marshal(v.Raw)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON принимает число, строку или null
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Missing()
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode value: %w", err)
		}
		*v = ParseValue(s)
		return nil
	}
	if data[0] == 't' || data[0] == 'f' {
		*v = Invalid(string(data))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		*v = Invalid(string(data))
		return nil
	}
	*v = Number(f)
	return nil
}
