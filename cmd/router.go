package main

import (
	"net/http"

	"github.com/angeloszaimis/breakerd/internal/events"
	"github.com/angeloszaimis/breakerd/internal/handler"
)

func setupRouter(breakerHandler *handler.BreakerHandler, collector *events.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/services/{service}/{rest...}", breakerHandler.Proxy)
	mux.HandleFunc("GET /breakers", breakerHandler.Breakers)
	mux.HandleFunc("POST /breakers/reset", breakerHandler.ResetAll)
	mux.HandleFunc("POST /breakers/{service}/reset", breakerHandler.ResetService)
	mux.HandleFunc("GET /events", collector.Handler())

	return mux
}
