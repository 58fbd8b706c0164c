package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/nova-ts/tsdb/pkg/schema"
)

// PutPoint is one element of the HTTP /api/put JSON array body (§6).
type PutPoint struct {
	Metric    string            `json:"metric"`
	Timestamp int64             `json:"timestamp"`
	Value     schema.Float      `json:"value"`
	Tags      map[string]string `json:"tags"`
}

type putError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// HTTPHandler returns the handler for POST /api/put: a JSON array of
// PutPoint. All-success returns 204 with no body; any rejection
// returns 400 with the per-element error list, matching §6's "204 on
// full success or 400 with per-element error array on partial
// failure".
func HTTPHandler(ingress *Ingress) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var points []PutPoint
		if err := json.NewDecoder(r.Body).Decode(&points); err != nil {
			http.Error(w, "malformed json body: "+err.Error(), http.StatusBadRequest)
			return
		}

		var errs []putError
		for i, p := range points {
			res := ingress.Put(p.Metric, p.Tags, p.Timestamp, p.Value)
			if res.Code != Ok {
				errs = append(errs, putError{Index: i, Error: res.Reason})
			}
		}

		if len(errs) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"success": len(points) - len(errs),
			"failed":  len(errs),
			"errors":  errs,
		})
	}
}
