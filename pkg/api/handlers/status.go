package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/finder"
)

// StatusHandler serves health, devices, decks and finder settings.
type StatusHandler struct {
	observer Observer
}

// NewStatusHandler creates a handler reading from observer.
func NewStatusHandler(observer Observer) *StatusHandler {
	return &StatusHandler{observer: observer}
}

// Liveness handles GET /health.
func (h *StatusHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, map[string]string{"status": "healthy", "service": "deckwatch"})
}

// Readiness handles GET /health/ready: 503 until the runtime is running.
func (h *StatusHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.observer == nil || !h.observer.Running() {
		WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "not running")
		return
	}
	WriteJSONOK(w, map[string]any{
		"status":  "ready",
		"devices": len(h.observer.Devices()),
	})
}

// Devices handles GET /devices.
func (h *StatusHandler) Devices(w http.ResponseWriter, r *http.Request) {
	devs := h.observer.Devices()
	out := make([]DeviceResponse, len(devs))
	for i, d := range devs {
		out[i] = newDeviceResponse(d)
	}
	WriteJSONOK(w, out)
}

// Decks handles GET /decks: what every finder holds, by kind.
func (h *StatusHandler) Decks(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]ContentResponse)
	for _, f := range h.observer.Finders() {
		loaded := f.Loaded()
		entries := make([]ContentResponse, len(loaded))
		for i, l := range loaded {
			entries[i] = newContentResponse(l.Deck, l.Ref)
		}
		out[f.Kind()] = entries
	}
	WriteJSONOK(w, out)
}

// Metadata handles GET /decks/{player}/metadata.
func (h *StatusHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	deck, ok := parseDeck(w, r)
	if !ok {
		return
	}
	md, ok := h.observer.Metadata(deck)
	if !ok {
		NotFound(w, "No metadata for deck "+deck.String())
		return
	}
	WriteJSONOK(w, MetadataResponse{ContentResponse: newContentResponse(deck, md.Ref), Metadata: md})
}

// Artwork handles GET /decks/{player}/artwork, returning the image itself.
func (h *StatusHandler) Artwork(w http.ResponseWriter, r *http.Request) {
	deck, ok := parseDeck(w, r)
	if !ok {
		return
	}
	art, ok := h.observer.Artwork(deck)
	if !ok || len(art.Image) == 0 {
		NotFound(w, "No artwork for deck "+deck.String())
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(art.Image))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Image)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Image)
}

// Finders handles GET /finders.
func (h *StatusHandler) Finders(w http.ResponseWriter, r *http.Request) {
	finders := h.observer.Finders()
	out := make([]FinderResponse, len(finders))
	for i, f := range finders {
		out[i] = newFinderResponse(f)
	}
	WriteJSONOK(w, out)
}

// PassiveRequest is the body of PUT /finders/{kind}/passive.
type PassiveRequest struct {
	Passive *bool `json:"passive"`
}

// SetPassive handles PUT /finders/{kind}/passive.
func (h *StatusHandler) SetPassive(w http.ResponseWriter, r *http.Request) {
	f, ok := h.finder(w, r)
	if !ok {
		return
	}
	var req PassiveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Passive == nil {
		BadRequest(w, "passive is required")
		return
	}
	f.SetPassive(*req.Passive)
	WriteJSONOK(w, newFinderResponse(f))
}

// CapacityRequest is the body of PUT /finders/{kind}/capacity.
type CapacityRequest struct {
	CacheCapacity int `json:"cache_capacity"`
}

// SetCapacity handles PUT /finders/{kind}/capacity. Running finders reject
// resizing with 409.
func (h *StatusHandler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	f, ok := h.finder(w, r)
	if !ok {
		return
	}
	var req CapacityRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.CacheCapacity < 1 {
		BadRequest(w, "cache_capacity must be at least 1")
		return
	}
	if err := f.SetCacheCapacity(req.CacheCapacity); err != nil {
		Conflict(w, err.Error())
		return
	}
	WriteJSONOK(w, newFinderResponse(f))
}

func (h *StatusHandler) finder(w http.ResponseWriter, r *http.Request) (finder.Controller, bool) {
	kind := chi.URLParam(r, "kind")
	for _, f := range h.observer.Finders() {
		if f.Kind() == kind {
			return f, true
		}
	}
	NotFound(w, "No finder of kind "+kind)
	return nil, false
}

// parseDeck reads {player} and the optional hot_cue query parameter.
func parseDeck(w http.ResponseWriter, r *http.Request) (djlink.DeckReference, bool) {
	player, err := strconv.Atoi(chi.URLParam(r, "player"))
	if err != nil || player < 1 || player > 255 {
		BadRequest(w, "player must be a device number between 1 and 255")
		return djlink.DeckReference{}, false
	}
	deck := djlink.MainDeck(djlink.DeviceID(player))
	if q := r.URL.Query().Get("hot_cue"); q != "" {
		cue, err := strconv.Atoi(q)
		if err != nil || cue < 0 {
			BadRequest(w, "hot_cue must be a non-negative number")
			return djlink.DeckReference{}, false
		}
		deck.HotCue = cue
	}
	return deck, true
}
