package main

import (
	"encoding/json"
	"net/http"

	"github.com/onkernel/snaprelay/lib/logger"
)

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).Error("failed to write response", "err", err)
	}
}
