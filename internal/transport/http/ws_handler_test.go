package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"competition-service/internal/domain"
	"github.com/gorilla/websocket"
)

func dialAttempt(t *testing.T, h *harness, competitionID, userID string) *websocket.Conn {
	t.Helper()
	u := "ws" + h.server.URL[len("http"):] + "/ws?competitionId=" + competitionID + "&userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketAnswerAndSubmit(t *testing.T) {
	h := newHarness(t, jan31, time.Hour)
	compID := h.seedCompetition(t, jan31, 2)
	conn := dialAttempt(t, h, compID, "u")

	_, payload := readNext(conn, t, "attempt")
	if payload["state"] != string(domain.AttemptInProgress) {
		t.Fatalf("expected in-progress attempt, got %v", payload["state"])
	}

	answer := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionIndex": 0, "answerIndex": 1},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	readNext(conn, t, "answerSaved")

	bad := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionIndex": 9, "answerIndex": 1},
	}
	if err := conn.WriteJSON(bad); err != nil {
		t.Fatalf("write bad answer: %v", err)
	}
	readNext(conn, t, "error")

	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	_, payload = readNext(conn, t, "submitted")
	if payload["score"] != 50.0 {
		t.Fatalf("expected score 50, got %v", payload["score"])
	}

	// The server closes the session after submit.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestWebSocketDropsClientIgnoringCloseFrame(t *testing.T) {
	h := newHarness(t, jan31, time.Hour)
	compID := h.seedCompetition(t, jan31, 1)
	conn := dialAttempt(t, h, compID, "u")
	// Do not echo the close frame back.
	conn.SetCloseHandler(func(int, string) error { return nil })

	readNext(conn, t, "attempt")
	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	readNext(conn, t, "submitted")
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected close frame, got %v", err)
	}

	// The server hangs up after its grace period instead of waiting forever.
	raw := conn.UnderlyingConn()
	_ = raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := raw.Read(make([]byte, 1))
	var netErr net.Error
	if err == nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		t.Fatalf("expected server to close the connection, got %v", err)
	}
}

func TestWebSocketAutoSubmitsAtDeadline(t *testing.T) {
	h := newHarness(t, jan31, 10*time.Millisecond)
	compID := h.seedCompetition(t, jan31, 2)
	conn := dialAttempt(t, h, compID, "u")

	readNext(conn, t, "attempt")
	_, tick := readNext(conn, t, "tick")
	if tick["remainingSeconds"] != 3600.0 {
		t.Fatalf("expected full budget on first tick, got %v", tick["remainingSeconds"])
	}

	h.clock.Set(jan31.Add(2 * time.Hour))
	for {
		typ, payload := readNext(conn, t, "")
		if typ == "tick" {
			continue
		}
		if typ != "submitted" {
			t.Fatalf("expected submitted, got %s", typ)
		}
		if payload["submittedAt"] != jan31.Add(time.Hour).Format(time.RFC3339) {
			t.Fatalf("expected submit at deadline, got %v", payload["submittedAt"])
		}
		break
	}

	attempt, err := h.store.GetAttemptByUser(context.Background(), compID, "u")
	if err != nil || attempt.SubmittedAt == nil {
		t.Fatalf("expected attempt closed in store, got %+v err=%v", attempt, err)
	}
}

func TestWebSocketResumesExistingAttempt(t *testing.T) {
	h := newHarness(t, jan31, time.Hour)
	compID := h.seedCompetition(t, jan31, 2)

	resp := h.do(t, http.MethodPost, "/competitions/"+compID+"/attempts", "u", nil)
	started := decodeBody[domain.AttemptView](t, resp)
	h.clock.Advance(10 * time.Minute)

	conn := dialAttempt(t, h, compID, "u")
	_, payload := readNext(conn, t, "attempt")
	if payload["id"] != started.ID || payload["remainingSeconds"] != 3000.0 {
		t.Fatalf("expected resumed attempt with 50 minutes left, got %v", payload)
	}
}

func TestWebSocketRejectsInactiveCompetition(t *testing.T) {
	h := newHarness(t, jan31, time.Hour)
	compID := h.seedCompetition(t, jan31.Add(time.Hour), 2)
	conn := dialAttempt(t, h, compID, "u")

	_, payload := readNext(conn, t, "error")
	if payload["message"] != domain.ErrCompetitionNotActive.Error() {
		t.Fatalf("unexpected error %v", payload)
	}
}

func TestWebSocketRequiresParams(t *testing.T) {
	h := newHarness(t, jan31, time.Hour)
	resp := h.do(t, http.MethodGet, "/ws?competitionId=x", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}
