package aggregate

import (
	"bytes"
	"encoding/json"
	"io"
)

// WriteJSON writes r as two-space indented JSON. Map keys come out sorted and
// non-ASCII brand names are written as-is.
func WriteJSON(w io.Writer, r Result) error {
	if r == nil {
		r = Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r)
}

func MarshalJSON(r Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
