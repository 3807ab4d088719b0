// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostio

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PinValue is the body of a pin read or write.
type PinValue struct {
	Name  string      `json:"name,omitempty"`
	Value interface{} `json:"value"`
}

// Handler returns the HTTP panel for pins:
//
//	GET /healthz
//	GET /pins
//	GET /pins/{name}
//	PUT /pins/{name}  {"value": ...}
func Handler(p *Pins, logger *zap.SugaredLogger) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]interface{}{
			"status":       "ok",
			"last_publish": p.LastPublish(),
		})
	})
	r.Get("/pins", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, p.Snapshot())
	})
	r.Get("/pins/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		v, err := p.Get(name)
		if err != nil {
			httpError(w, err)
			return
		}
		respond(w, http.StatusOK, PinValue{Name: name, Value: v})
	})
	r.Put("/pins/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		var body PinValue
		err := json.NewDecoder(r.Body).Decode(&body)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := p.Set(name, body.Value); err != nil {
			httpError(w, err)
			return
		}
		v, _ := p.Get(name)
		respond(w, http.StatusOK, PinValue{Name: name, Value: v})
	})
	return r
}

func httpError(w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case ErrUnknownPin:
		http.Error(w, err.Error(), http.StatusNotFound)
	case ErrOutputPin:
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func respond(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start))
		})
	}
}
