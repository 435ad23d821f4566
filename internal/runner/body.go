package runner

import (
	"io"
	"net/http"

	"github.com/FamilySearch/pewpew/internal/value"
)

// maxBodyBytes caps how much of a response body this port will buffer for
// select/where evaluation; a body beyond this is truncated rather than
// risking unbounded memory growth under load (spec.md doesn't bound this,
// but an unbounded read is not a reasonable default for a load generator).
const maxBodyBytes = 16 << 20 // 16 MiB

// readBodyAsValue reads resp's body and decodes it as JSON when it parses,
// otherwise as a plain string (spec.md §3 "response.body is decoded as JSON
// when it parses, otherwise treated as a string").
func readBodyAsValue(resp *http.Response) value.Value {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return value.NewString("")
	}
	if v, err := value.ParseJSON(data); err == nil {
		return v
	}
	return value.NewString(string(data))
}
