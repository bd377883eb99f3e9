package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/puyokura/orbitchat/engine"
	"github.com/puyokura/orbitchat/model"
)

var kindStatus = map[engine.Kind]int{
	engine.KindInvalidInput:         http.StatusBadRequest,
	engine.KindDuplicateEmail:       http.StatusConflict,
	engine.KindAuthenticationFailed: http.StatusUnauthorized,
	engine.KindPermissionDenied:     http.StatusForbidden,
	engine.KindNotFound:             http.StatusNotFound,
	engine.KindInsufficientFunds:    http.StatusPaymentRequired,
	engine.KindAlreadyOwned:         http.StatusConflict,
	engine.KindPersistence:          http.StatusServiceUnavailable,
}

func newRouter(hub *Hub, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(hub.log))

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head>
    <title>%[1]s</title>
    <style>
        body { font-family: sans-serif; text-align: center; padding-top: 50px; }
        code { background: #f4f4f4; padding: 5px; border-radius: 5px; }
    </style>
</head>
<body>
    <h1>Welcome to %[1]s</h1>
    <p>This is the server endpoint.</p>
    <p>Connect a websocket client to <code>ws://%[2]s/ws</code>.</p>
</body>
</html>
`, hub.config.ServerName, hub.config.Addr())
	}).Methods(http.MethodGet)

	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.engine.Messaging.Channels(""))
	}).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		// Direct conversations are only readable over an authenticated websocket.
		ch, err := hub.engine.Messaging.Channel(id)
		if err == nil && ch.Kind != model.ChannelNamed {
			err = &engine.Error{Kind: engine.KindNotFound, Op: "list_messages", Msg: "channel " + id}
		}
		if err != nil {
			writeError(w, err)
			return
		}
		messages, err := hub.engine.Messaging.ListMessages(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messages)
	}).Methods(http.MethodGet)
	api.HandleFunc("/catalog", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.engine.Inventory.Catalog())
	}).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
		kind = "INTERNAL"
	}
	writeJSON(w, status, model.ErrorPayload{Kind: string(kind), Message: err.Error()})
}

func requestLogger(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("incoming_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
