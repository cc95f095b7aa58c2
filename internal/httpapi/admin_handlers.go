package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/karuta-mvp/internal/game"
	"example.com/karuta-mvp/internal/store"
)

// AdminHandler serves the analytics read surface. Both backends are
// optional: a nil Hints means no database was configured, a nil Feed
// means no Redis. Either answers 501, matching how the game itself
// degrades without them.
type AdminHandler struct {
	Hints *store.HintStats
	Feed  *game.RedisClueFeed

	// CatalogVersions supplies the currently scanned versions so the
	// filter dropdown includes sets that have no logs yet.
	CatalogVersions func() []string
}

func (h *AdminHandler) HandleHints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if h.Hints == nil {
		writeError(w, http.StatusNotImplemented, "db_not_configured", "db not configured")
		return
	}

	filter := store.HintFilter{
		Version:   normalizeFilter(r.URL.Query().Get("version")),
		Character: normalizeFilter(r.URL.Query().Get("character")),
	}
	summaryLimit := parseLimit(r.URL.Query().Get("summaryLimit"), 0, 5000)
	recentLimit := parseLimit(r.URL.Query().Get("recentLimit"), 160, 1000)

	ctx := r.Context()

	summary, err := h.Hints.Summary(ctx, filter, summaryLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "admin query failed")
		return
	}
	recent, err := h.Hints.Recent(ctx, filter, recentLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "admin query failed")
		return
	}
	meta, err := h.Hints.Meta(ctx, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "admin query failed")
		return
	}
	loggedVersions, err := h.Hints.Versions(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "admin query failed")
		return
	}
	characters, err := h.Hints.Characters(ctx, filter.Version)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "admin query failed")
		return
	}

	versions := loggedVersions
	if h.CatalogVersions != nil {
		versions = mergeUnique(h.CatalogVersions(), loggedVersions)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"filters": map[string]string{
			"version":   filter.Version,
			"character": filter.Character,
		},
		"fetchedAt":  time.Now().UTC().Format(time.RFC3339),
		"versions":   versions,
		"characters": characters,
		"meta":       meta,
		"summary":    summary,
		"recent":     recent,
	})
}

func (h *AdminHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if h.Feed == nil {
		writeError(w, http.StatusNotImplemented, "redis_not_configured", "redis not configured")
		return
	}

	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "roomId is required")
		return
	}
	limit := int64(parseLimit(r.URL.Query().Get("limit"), 50, 1000))

	entries, err := h.Feed.Recent(r.Context(), roomID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "feed query failed")
		return
	}
	if entries == nil {
		entries = []game.FeedEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":  roomID,
		"entries": entries,
	})
}

// normalizeFilter turns the UI's "all" spellings into no filter.
func normalizeFilter(input string) string {
	text := strings.TrimSpace(input)
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	if lower == "all" || lower == "all_versions" || text == "全バージョン" {
		return ""
	}
	return text
}

func parseLimit(input string, fallback, max int) int {
	if input == "" {
		return fallback
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string(nil), a...), b...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
