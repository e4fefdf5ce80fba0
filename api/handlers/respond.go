// Package handlers implements the REST endpoints. Each handler owns one
// resource and talks to the keepers through narrow service interfaces so
// tests can run against fakes.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"

	exchangetypes "github.com/openpredict/predex/x/exchange/types"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteErrorMsg writes an error body with an explicit status and code.
func WriteErrorMsg(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// WriteError maps a keeper error to its HTTP status via the error kind.
func WriteError(w http.ResponseWriter, err error) {
	kind := exchangetypes.KindOf(err)
	status := statusForKind(kind)
	// An unauthorised cancel is a validation error to the engine but a
	// permission problem to the caller.
	if errorsmod.IsOf(err, obtypes.ErrUnauthorized) {
		status = http.StatusForbidden
	}
	WriteErrorMsg(w, status, string(kind), err.Error())
}

func statusForKind(kind exchangetypes.Kind) int {
	switch kind {
	case exchangetypes.KindValidation:
		return http.StatusBadRequest
	case exchangetypes.KindNotFound:
		return http.StatusNotFound
	case exchangetypes.KindConflict:
		return http.StatusConflict
	case exchangetypes.KindInsufficientLiquidity, exchangetypes.KindLMSRInsufficient:
		return http.StatusUnprocessableEntity
	case exchangetypes.KindBrokerUnavailable, exchangetypes.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// splitPath cuts the prefix off r's path and returns the next segment plus
// whatever follows the first slash after it.
func splitPath(r *http.Request, prefix string) (head, rest string) {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	head = path
	for i, c := range path {
		if c == '/' {
			head = path[:i]
			rest = path[i+1:]
			break
		}
	}
	return head, rest
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or unparseable.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
