package core

import (
	"bytes"
	"encoding/json"
)

// UnmarshalJSON decodes stored task data. Numbers are kept as json.Number so integers
// beyond float64 precision survive a round trip through a backend.
func UnmarshalJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}
