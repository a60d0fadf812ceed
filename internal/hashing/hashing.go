package hashing

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Text returns the hex encoded MD5 digest of the given string.
func Text(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// SpecKey computes the hash that ties an expanded specification to the base
// specification source and the requested number of cases.
func SpecKey(source string, size int) string {
	return Text(source + strconv.Itoa(size))
}

// Payload hashes the canonical JSON form of a submission payload. Empty
// payloads hash to the empty string.
func Payload(payload map[string]interface{}) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}

	data, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return Text(string(data)), nil
}

// Canonical renders the payload as canonical JSON. Object keys are sorted and
// numbers are written using their canonical decimal string form, so a payload
// hashes the same whether its numbers were decoded as float64 or json.Number.
func Canonical(payload interface{}) ([]byte, error) {
	normalized, err := Normalize(payload)
	if err != nil {
		return nil, err
	}
	return encode(normalized)
}

// Exact renders the payload with sorted keys while keeping JSON types: numbers
// stay numbers in canonical decimal text, so 1 and 1.0 match but "1" does not.
func Exact(payload interface{}) ([]byte, error) {
	normalized, err := normalize(payload, numberLiteral)
	if err != nil {
		return nil, err
	}
	return encode(normalized)
}

// Equal reports whether two payloads hold the same JSON values.
func Equal(a, b map[string]interface{}) bool {
	left, err := Exact(a)
	if err != nil {
		return false
	}
	right, err := Exact(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func encode(normalized interface{}) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(normalized); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Normalize converts a JSON-like value into plain maps, slices and scalars.
// Numbers become strings.
func Normalize(value interface{}) (interface{}, error) {
	return normalize(value, numberString)
}

func numberString(literal string) interface{} { return literal }

func numberLiteral(literal string) interface{} { return json.Number(literal) }

func normalize(value interface{}, number func(string) interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, bool:
		return v, nil
	case json.Number:
		return number(canonicalNumber(v.String())), nil
	case float64:
		return number(canonicalNumber(strconv.FormatFloat(v, 'f', -1, 64))), nil
	case float32:
		return number(canonicalNumber(strconv.FormatFloat(float64(v), 'f', -1, 32))), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return number(fmt.Sprint(v)), nil
	case fmt.Stringer:
		return v.String(), nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			normalized, err := normalize(item, number)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = normalized
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			normalized, err := normalize(item, number)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = normalized
		}
		return out, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("not a JSON-compatible map key: %s", rv.Type().Key())
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			normalized, err := normalize(iter.Value().Interface(), number)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = normalized
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			normalized, err := normalize(rv.Index(i).Interface(), number)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface(), number)
	}

	return nil, fmt.Errorf("not a JSON-compatible type: %T", value)
}

func canonicalNumber(literal string) string {
	if i, err := strconv.ParseInt(literal, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := strconv.ParseFloat(literal, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return literal
}
