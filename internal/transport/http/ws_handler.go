package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"competition-service/internal/app"
	"competition-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// AttemptHandler runs an attempt over a websocket: it starts or resumes the
// caller's attempt, pushes a server-driven countdown, accepts answers and
// submits automatically once the time limit passes.
type AttemptHandler struct {
	attempts   *app.AttemptService
	log        logrus.FieldLogger
	tick       time.Duration
	closeGrace time.Duration
	upgrader   websocket.Upgrader
}

// defaultCloseGrace bounds how long a client may take to answer the close
// frame once nothing more will be written.
const defaultCloseGrace = 5 * time.Second

func NewAttemptHandler(attempts *app.AttemptService, log logrus.FieldLogger, tick time.Duration) *AttemptHandler {
	if tick <= 0 {
		tick = time.Second
	}
	return &AttemptHandler{
		attempts:   attempts,
		log:        log,
		tick:       tick,
		closeGrace: defaultCloseGrace,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WithCloseGrace overrides how long the read loop waits for the client after
// the session has ended.
func (h *AttemptHandler) WithCloseGrace(d time.Duration) *AttemptHandler {
	if d > 0 {
		h.closeGrace = d
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex int `json:"questionIndex"`
	AnswerIndex   int `json:"answerIndex"`
}

type answerSaved struct {
	QuestionIndex int `json:"questionIndex"`
	AnswerIndex   int `json:"answerIndex"`
}

type tickPayload struct {
	RemainingSeconds int64 `json:"remainingSeconds"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

const msgSubmitted = "submitted"

// ServeWS upgrades the request and drives one attempt until it closes.
func (h *AttemptHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	competitionID := r.URL.Query().Get("competitionId")
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	if competitionID == "" || userID == "" {
		http.Error(w, "missing competitionId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	log := h.log.WithFields(logrus.Fields{"competition_id": competitionID, "user_id": userID})

	view, err := h.attempts.Start(ctx, competitionID, userID)
	if errors.Is(err, domain.ErrAlreadyStarted) {
		view, err = h.attempts.Current(ctx, competitionID, userID)
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	attemptID := view.ID

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	tickerDone := make(chan struct{})

	// Single writer; a submitted message ends the session with a close frame.
	go func() {
		defer close(writerDone)
		// A client that never answers the close frame must not pin the read loop.
		defer func() { _ = conn.SetReadDeadline(time.Now().Add(h.closeGrace)) }()
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write failed")
				return
			}
			if msg.Type == msgSubmitted {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "attempt closed"))
				return
			}
		}
	}()

	push := func(typ string, payload any) bool {
		select {
		case send <- outboundMessage[any]{Type: typ, Payload: payload}:
			return true
		case <-writerDone:
			return false
		}
	}

	finish := func() {
		submitted, err := h.attempts.Submit(ctx, attemptID)
		if errors.Is(err, domain.ErrAttemptClosed) {
			submitted, err = h.attempts.Get(ctx, attemptID)
		}
		if err != nil {
			push("error", errorPayload{Message: err.Error()})
			return
		}
		push(msgSubmitted, submitted)
	}

	push("attempt", view)
	if view.State != domain.AttemptInProgress {
		push(msgSubmitted, view)
	}

	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(h.tick)
		defer ticker.Stop()
		for {
			select {
			case <-closeSignals:
				return
			case <-writerDone:
				return
			case <-ticker.C:
			}
			current, err := h.attempts.Get(ctx, attemptID)
			if err != nil {
				continue
			}
			if current.State == domain.AttemptInProgress {
				push("tick", tickPayload{RemainingSeconds: current.RemainingSeconds})
				continue
			}
			log.WithField("attempt_id", attemptID).Info("time limit reached, submitting attempt")
			finish()
			return
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push("error", errorPayload{Message: "invalid answer payload"})
				continue
			}
			if err := h.attempts.RecordAnswer(ctx, attemptID, payload.QuestionIndex, payload.AnswerIndex); err != nil {
				push("error", errorPayload{Message: err.Error()})
				continue
			}
			push("answerSaved", answerSaved(payload))
		case "submit":
			finish()
		default:
			push("error", errorPayload{Message: "unsupported message type"})
		}
	}

	close(closeSignals)
	<-tickerDone
	close(send)
	<-writerDone
}
