package rewrite

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// ParseBody decodes a JSON request body. Empty or malformed input yields nil, which the
// rest of the pipeline treats as "no body". Numbers are kept as json.Number so they are
// re-encoded exactly as received.
func ParseBody(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	// trailing data makes the whole body malformed
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}
	return v
}

// EncodeBody serializes a body for the outbound call without HTML escaping.
func EncodeBody(body any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WantsStream reports whether a call should take the streaming path: a POST whose
// JSON object body carries a truthy "stream" field.
func WantsStream(method string, body any) bool {
	if method != http.MethodPost {
		return false
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return false
	}
	return truthy(obj["stream"])
}

// truthy follows the usual dynamic-language rules: false, null, zero, "" and empty
// containers are false; everything else is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return true
		}
		return f != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
