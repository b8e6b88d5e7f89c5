package api

import (
	"encoding/json"
	"net/http"
)

// changeStream implements GET /producers/{id}/change-stream: a
// long-lived response that delivers the initial branch snapshot, then
// push events as they happen, interleaved with keep-alives. Events are
// newline-delimited JSON objects. The subscription ends when the client
// goes away; nothing is buffered for it afterwards.
func (h *Handler) changeStream(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	branches := map[string]string{}
	names, err := repo.Branches()
	if err != nil {
		h.writeError(w, err)
		return
	}
	for _, name := range names {
		revision, err := repo.BranchRevision(name)
		if err != nil {
			h.writeError(w, err)
			return
		}
		branches[name] = revision
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.bus.Subscribe(repo.Name(), branches)
	defer sub.Close()
	h.collector.SubscriberConnected()
	defer h.collector.SubscriberDisconnected()

	// Transport-level cancellation is the only thing that ends a
	// subscription.
	go func() {
		<-r.Context().Done()
		sub.Close()
	}()

	encoder := json.NewEncoder(w)
	for {
		msg, ok := sub.Next()
		if !ok {
			return
		}
		if err := encoder.Encode(msg); err != nil {
			return
		}
		flusher.Flush()
	}
}
