package http

import (
	"net/http"

	"competition-service/internal/metrics"
)

// NewRouter wires every route onto a method-aware ServeMux. The websocket
// route is not wrapped by the metrics recorder since it needs the raw
// connection for the upgrade.
func NewRouter(api *APIHandler, ws *AttemptHandler, m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, m.Instrument(pattern, fn))
	}

	route("POST /competitions", api.createCompetition)
	route("GET /competitions", api.listCompetitions)
	route("GET /competitions/{id}", api.getCompetition)
	route("PUT /competitions/{id}/questions", api.setQuestions)
	route("POST /competitions/{id}/schedule", api.schedule)
	route("POST /competitions/{id}/finalize", api.finalize)
	route("GET /competitions/{id}/leaderboard", api.leaderboard)
	route("POST /competitions/{id}/attempts", api.startAttempt)
	route("GET /attempts/{id}", api.getAttempt)
	route("PUT /attempts/{id}/answers/{index}", api.recordAnswer)
	route("POST /attempts/{id}/submit", api.submitAttempt)
	route("GET /users/{id}/notifications", api.listNotifications)
	route("POST /notifications/{id}/read", api.markRead)
	route("GET /emails/failed", api.failedEmails)
	route("POST /emails/{id}/requeue", api.requeueEmail)

	if ws != nil {
		mux.HandleFunc("GET /ws", ws.ServeWS)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", m.Handler())
	return mux
}
