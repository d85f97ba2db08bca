package server

import (
	"net/http"

	"veracity/internal/gateway/handler"
	"veracity/internal/gateway/middleware"
)

func NewMux(analysis *handler.AnalysisHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/analyze", analysis.HandleAnalyze)
	mux.HandleFunc("/api/sessions/", analysis.HandleSession)
	mux.HandleFunc("/api/reports/", analysis.HandleReport)
	mux.HandleFunc("/api/watch/", analysis.HandleWatchSSE)
	mux.HandleFunc("/ws/watch", analysis.HandleWatchWS)
	mux.HandleFunc("/health", analysis.HandleHealth)

	return middleware.CORS(mux)
}
