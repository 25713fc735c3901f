// Package httprelay serves the WebRTC Signal Relay's HTTP surface (spec.md
// §4.16, §6): PUT/GET endpoints for SDP and ICE mailbox messages.
package httprelay

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/webrtcrelay"
)

// sdpBody is the JSON shape PUT /api/webrtcsignal/sdp/{from}/{to} accepts.
type sdpBody struct {
	SDPType string `json:"sdpType"`
	SDP     string `json:"sdp"`
}

// iceBody is the JSON shape PUT /api/webrtcsignal/ice/{from}/{to} accepts.
type iceBody struct {
	Candidate string `json:"candidate"`
}

// getResponse is what GET /api/webrtcsignal/{to}/{from}/{type} returns.
type getResponse struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// NewRouter builds the chi.Router serving the relay surface over relay.
func NewRouter(relay *webrtcrelay.Relay, logger logging.Logger) chi.Router {
	r := chi.NewRouter()

	r.Put("/api/webrtcsignal/sdp/{from}/{to}", func(w http.ResponseWriter, req *http.Request) {
		from := chi.URLParam(req, "from")
		to := chi.URLParam(req, "to")

		var body sdpBody
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "malformed sdp body", http.StatusBadRequest)
			return
		}
		sdpType := webrtcrelay.SDPAnswer
		if body.SDPType == string(webrtcrelay.SDPOffer) {
			sdpType = webrtcrelay.SDPOffer
		}
		if err := relay.PutSDP(from, to, sdpType, body.SDP); err != nil {
			logger.Error("webrtc relay put sdp failed", logging.Err(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Put("/api/webrtcsignal/ice/{from}/{to}", func(w http.ResponseWriter, req *http.Request) {
		from := chi.URLParam(req, "from")
		to := chi.URLParam(req, "to")

		var body iceBody
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "malformed ice body", http.StatusBadRequest)
			return
		}
		if err := relay.PutICE(from, to, body.Candidate); err != nil {
			logger.Error("webrtc relay put ice failed", logging.Err(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/webrtcsignal/{to}/{from}/{type}", func(w http.ResponseWriter, req *http.Request) {
		to := chi.URLParam(req, "to")
		from := chi.URLParam(req, "from")
		signalType := chi.URLParam(req, "type")
		if signalType == "any" {
			signalType = ""
		}

		body, kind, ok, err := relay.GetNext(to, from, signalType)
		if err != nil {
			logger.Error("webrtc relay get failed", logging.Err(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(getResponse{Type: string(kind), Body: body})
	})

	return r
}
