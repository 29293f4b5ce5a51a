package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"competition-service/internal/app"
	"competition-service/internal/clock"
	"competition-service/internal/domain"
	"competition-service/internal/infra/memory"
	"competition-service/internal/logger"
	"competition-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var jan31 = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

type harness struct {
	clock     *clock.Fake
	store     *memory.Store
	questions *memory.StaticQuestionLoader
	svc       Services
	server    *httptest.Server
}

type nopTransport struct{}

func (nopTransport) Send(context.Context, domain.EmailMessage) error { return nil }

func newHarness(t *testing.T, now time.Time, tick time.Duration) *harness {
	t.Helper()
	log := logger.Discard()
	m := metrics.New(prometheus.NewRegistry())
	h := &harness{
		clock:     clock.NewFake(now),
		store:     memory.NewStore(),
		questions: memory.NewStaticQuestionLoader(nil),
	}
	users := memory.NewUserDirectory(
		domain.User{ID: "u", Email: "u@example.com", FirstName: "Una"},
		domain.User{ID: "v", Email: "v@example.com", FirstName: "Vic"},
	)
	scheduler := app.NewNotificationScheduler(h.store, users, h.clock, log, m, app.SchedulerConfig{SenderEmail: "competitions@example.com"})
	h.svc = Services{
		Competitions: app.NewCompetitionService(h.store, scheduler, memory.NewRewardLedger(), memory.NewLeaderboardCache(), h.clock, log, m, app.CompetitionConfig{}),
		Attempts:     app.NewAttemptService(h.store, h.questions, h.clock, log, m),
		Scheduler:    scheduler,
		Dispatcher:   app.NewDispatcher(h.store, nopTransport{}, h.clock, log, m, app.DispatcherConfig{}),
		Questions:    app.NewQuestionBankService(h.store, h.questions, nil, log),
	}
	router := NewRouter(NewAPIHandler(h.svc, log), NewAttemptHandler(h.svc.Attempts, log, tick).WithCloseGrace(200*time.Millisecond), m)
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

// seedCompetition creates a competition starting at start with count
// questions whose correct option is index 1.
func (h *harness) seedCompetition(t *testing.T, start time.Time, count int) string {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/competitions", "", map[string]any{
		"title":            "January Challenge",
		"startDate":        start,
		"endDate":          start.Add(24 * time.Hour),
		"timeLimitMinutes": 60,
		"questionCount":    count,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create competition: status %d", resp.StatusCode)
	}
	view := decodeBody[app.CompetitionView](t, resp)

	bank := make([]domain.Question, count)
	for i := range bank {
		bank[i] = domain.Question{Prompt: "q", Options: []string{"a", "b", "c"}, CorrectIndex: 1}
	}
	if resp := h.do(t, http.MethodPut, "/competitions/"+view.ID+"/questions", "", bank); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set questions: status %d", resp.StatusCode)
	}
	return view.ID
}
