package transport

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler is implemented by the RA state machine; the transport server is
// just a thin RPC-to-method adapter in front of it — the receiving end of
// the handle Factory hands out on the sending side.
type Handler interface {
	OnRequest(timestamp float64, senderID string)
	OnReply(senderID string, response Response)
	OnHeartbeat(senderID string)
}

// NewRouter builds the mux.Router exposing this peer's three RPC methods.
func NewRouter(h Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/rpc/receive_critical_section_request", receiveRequestHandler(h)).Methods(http.MethodPost)
	r.HandleFunc("/rpc/reply_critical_section_request", replyRequestHandler(h)).Methods(http.MethodPost)
	r.HandleFunc("/rpc/receive_heartbeat", receiveHeartbeatHandler(h)).Methods(http.MethodPost)
	return r
}

func receiveRequestHandler(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p requestPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid request payload", http.StatusBadRequest)
			return
		}
		h.OnRequest(p.Timestamp, p.SenderID)
		w.WriteHeader(http.StatusOK)
	}
}

func replyRequestHandler(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p replyPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid reply payload", http.StatusBadRequest)
			return
		}
		h.OnReply(p.SenderID, p.Response)
		w.WriteHeader(http.StatusOK)
	}
}

func receiveHeartbeatHandler(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p heartbeatPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid heartbeat payload", http.StatusBadRequest)
			return
		}
		h.OnHeartbeat(p.SenderID)
		w.WriteHeader(http.StatusOK)
	}
}
