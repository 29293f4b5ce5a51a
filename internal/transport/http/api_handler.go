package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"competition-service/internal/app"
	"competition-service/internal/domain"
	"github.com/sirupsen/logrus"
)

// UserHeader carries the caller's user id, set by the upstream auth layer.
const UserHeader = "X-User-ID"

// Services bundles the use cases exposed over HTTP.
type Services struct {
	Competitions *app.CompetitionService
	Attempts     *app.AttemptService
	Scheduler    *app.NotificationScheduler
	Dispatcher   *app.Dispatcher
	Questions    *app.QuestionBankService
}

// APIHandler serves the JSON endpoints for administration, attempts and notifications.
type APIHandler struct {
	svc Services
	log logrus.FieldLogger
}

func NewAPIHandler(svc Services, log logrus.FieldLogger) *APIHandler {
	return &APIHandler{svc: svc, log: log}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCompetition),
		errors.Is(err, domain.ErrInvalidAnswer),
		errors.Is(err, domain.ErrInvalidQuestionBank):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCompetitionNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrNotificationNotFound),
		errors.Is(err, domain.ErrEmailNotFound),
		errors.Is(err, domain.ErrQuestionBankNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyStarted),
		errors.Is(err, domain.ErrCompetitionNotActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAttemptClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return false
	}
	return true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + UserHeader})
		return "", false
	}
	return userID, true
}

func (h *APIHandler) createCompetition(w http.ResponseWriter, r *http.Request) {
	var in app.CreateCompetitionInput
	if !decode(w, r, &in) {
		return
	}
	view, err := h.svc.Competitions.CreateCompetition(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *APIHandler) listCompetitions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Competitions.ListCompetitions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIHandler) getCompetition(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Competitions.GetCompetition(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *APIHandler) setQuestions(w http.ResponseWriter, r *http.Request) {
	var questions []domain.Question
	if !decode(w, r, &questions) {
		return
	}
	if err := h.svc.Questions.SetQuestions(r.Context(), r.PathValue("id"), questions); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) schedule(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Scheduler.ScheduleCompetitionNotifications(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) finalize(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Competitions.Finalize(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.svc.Competitions.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *APIHandler) startAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Attempts.Start(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// ownedAttempt loads the attempt and hides it from other users.
func (h *APIHandler) ownedAttempt(w http.ResponseWriter, r *http.Request) (domain.AttemptView, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return domain.AttemptView{}, false
	}
	view, err := h.svc.Attempts.Get(r.Context(), r.PathValue("id"))
	if err == nil && view.UserID != userID {
		err = domain.ErrAttemptNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return domain.AttemptView{}, false
	}
	return view, true
}

func (h *APIHandler) getAttempt(w http.ResponseWriter, r *http.Request) {
	if view, ok := h.ownedAttempt(w, r); ok {
		writeJSON(w, http.StatusOK, view)
	}
}

type answerBody struct {
	AnswerIndex *int `json:"answerIndex"`
}

func (h *APIHandler) recordAnswer(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ownedAttempt(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "question index must be an integer"})
		return
	}
	var body answerBody
	if !decode(w, r, &body) {
		return
	}
	if body.AnswerIndex == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "answerIndex is required"})
		return
	}
	if err := h.svc.Attempts.RecordAnswer(r.Context(), view.ID, index, *body.AnswerIndex); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ownedAttempt(w, r)
	if !ok {
		return
	}
	submitted, err := h.svc.Attempts.Submit(r.Context(), view.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitted)
}

func (h *APIHandler) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Scheduler.ListNotifications(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIHandler) markRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Scheduler.MarkRead(r.Context(), r.PathValue("id"), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) failedEmails(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Dispatcher.FailedEmails(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.EmailQueueEntry{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIHandler) requeueEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Dispatcher.Requeue(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
