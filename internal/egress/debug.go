package egress

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// SnapshotHandler GET：层级顺序与健康快照。
func SnapshotHandler(c *Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeSnapshot(w, c)
	}
}

// ResetHandler POST：手动清除冷却，?tier= 指定单个层级，缺省时清除全部。
func ResetHandler(c *Controller, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if name := r.URL.Query().Get("tier"); name != "" {
			t, err := ParseTier(name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			c.Registry().Reset(t)
		} else {
			c.Registry().ResetAll()
		}
		logger.Info("egress health reset via debug endpoint",
			slog.String("tier", r.URL.Query().Get("tier")),
			slog.String("remote", r.RemoteAddr))
		writeSnapshot(w, c)
	}
}

func writeSnapshot(w http.ResponseWriter, c *Controller) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"order": c.Order(),
		"tiers": c.Registry().Snapshot(),
	})
}
