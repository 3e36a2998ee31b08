package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// maxJSONBody caps request bodies accepted by ReadJSON.
const maxJSONBody = 1 << 20 // 1 MiB

// ClientIP returns the caller's IP, honouring X-Forwarded-For and X-Real-IP
// set by the reverse proxy.
func ClientIP(r *http.Request) string {
	return IPKeyExtractor(r)
}

// ReadJSON decodes a JSON request body into v, rejecting unknown fields and
// trailing garbage.
func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("httpx: unexpected data after JSON body")
	}
	return nil
}
