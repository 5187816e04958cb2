// pkg/httperr/httperr.go
package httperr

import (
	"encoding/json"
	"net/http"
)

// Payload is the error body shape the gateway relays to API consumers.
// Backends speak the same shape, so client-side error handling stays uniform.
type Payload struct {
	Detail string `json:"detail"`
}

// Write emits a JSON error payload with the given status.
func Write(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Payload{Detail: detail})
}

func BadGateway(w http.ResponseWriter, detail string) {
	Write(w, http.StatusBadGateway, detail)
}

func NotFound(w http.ResponseWriter, detail string) {
	Write(w, http.StatusNotFound, detail)
}

func Forbidden(w http.ResponseWriter, detail string) {
	Write(w, http.StatusForbidden, detail)
}

func PayloadTooLarge(w http.ResponseWriter, detail string) {
	Write(w, http.StatusRequestEntityTooLarge, detail)
}
