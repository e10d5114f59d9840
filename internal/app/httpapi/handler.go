// Package httpapi exposes the REST and websocket API of the service.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goalvault/goalvault/internal/app/auth"
	"github.com/goalvault/goalvault/internal/app/domain/goal"
	"github.com/goalvault/goalvault/internal/app/services/deposits"
	"github.com/goalvault/goalvault/internal/app/services/goals"
	"github.com/goalvault/goalvault/internal/app/storage"
)

var errNoAuth = errors.New("authentication required")

// handler bundles the HTTP endpoints for the application services.
type handler struct {
	goals    *goals.Service
	deposits *deposits.Orchestrator
	stream   *StreamHandler
}

// NewHandler returns a router exposing the REST API. Authentication, CORS and
// rate limiting are applied by the caller around the returned handler.
func NewHandler(goalSvc *goals.Service, orch *deposits.Orchestrator, stream *StreamHandler) http.Handler {
	h := &handler{goals: goalSvc, deposits: orch, stream: stream}

	r := chi.NewRouter()
	r.Route("/goals", func(r chi.Router) {
		r.Get("/", h.listGoals)
		r.Post("/", h.createGoal)
		r.Post("/funding", h.updateFunding)
		r.Get("/{goalID}", h.getGoal)
		r.Get("/{goalID}/credits", h.listCredits)
	})
	r.Route("/deposits", func(r chi.Router) {
		r.Get("/", h.listDeposits)
		r.Post("/", h.startDeposit)
		r.Get("/{attemptID}", h.getDeposit)
		if stream != nil {
			r.Get("/{attemptID}/events", stream.serveAttempt)
		}
	})
	return r
}

// goalView augments a goal with the derived fields the frontend renders.
type goalView struct {
	goal.Goal
	RemainingAmount int64 `json:"remaining_amount"`
	// DaysLeft is nil for goals without an end date, and never negative.
	DaysLeft *int `json:"days_left,omitempty"`
	Expired  bool `json:"expired"`
}

func viewOf(g goal.Goal) goalView {
	v := goalView{Goal: g, RemainingAmount: g.Remaining()}
	if g.EndDate != nil {
		days := int(time.Until(*g.EndDate).Hours() / 24)
		if days < 0 {
			days = 0
		}
		v.DaysLeft = &days
		v.Expired = g.Expired(time.Now())
	}
	return v
}

func (h *handler) listGoals(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}
	list, err := h.goals.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]goalView, 0, len(list))
	for _, g := range list {
		views = append(views, viewOf(g))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) createGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}

	var payload struct {
		Title        string     `json:"title"`
		Description  string     `json:"description"`
		TargetAmount int64      `json:"target_amount"`
		VaultAddress string     `json:"vault_address"`
		EndDate      *time.Time `json:"end_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.goals.Create(r.Context(), userID, goals.CreateParams{
		Title:        payload.Title,
		Description:  payload.Description,
		TargetAmount: payload.TargetAmount,
		VaultAddress: payload.VaultAddress,
		EndDate:      payload.EndDate,
	})
	if err != nil {
		writeError(w, goalErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(created))
}

func (h *handler) getGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}
	g, err := h.goals.Get(r.Context(), userID, chi.URLParam(r, "goalID"))
	if err != nil {
		writeError(w, goalErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(g))
}

func (h *handler) listCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}
	credits, err := h.goals.Credits(r.Context(), userID, chi.URLParam(r, "goalID"))
	if err != nil {
		writeError(w, goalErrorStatus(err), err)
		return
	}
	if credits == nil {
		credits = []goal.Credit{}
	}
	writeJSON(w, http.StatusOK, credits)
}

// updateFunding credits a confirmed deposit to a goal's ledger. A transaction
// hash makes the call idempotent; replays return the goal unchanged.
func (h *handler) updateFunding(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}

	var payload struct {
		GoalID          string `json:"goal_id"`
		DepositedAmount int64  `json:"deposited_amount"`
		TxHash          string `json:"tx_hash"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.GoalID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("goal_id is required"))
		return
	}

	updated, applied, err := h.goals.Credit(r.Context(), userID, payload.GoalID, payload.DepositedAmount, payload.TxHash)
	if err != nil {
		writeError(w, goalErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		goalView
		Applied bool `json:"applied"`
	}{viewOf(updated), applied})
}

func (h *handler) startDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}

	var payload struct {
		GoalID  string `json:"goal_id"`
		Amount  int64  `json:"amount"`
		NewGoal *struct {
			Title        string     `json:"title"`
			Description  string     `json:"description"`
			TargetAmount int64      `json:"target_amount"`
			VaultAddress string     `json:"vault_address"`
			EndDate      *time.Time `json:"end_date"`
		} `json:"new_goal"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := deposits.StartRequest{GoalID: payload.GoalID, Amount: payload.Amount}
	if payload.NewGoal != nil {
		req.NewGoal = &goals.CreateParams{
			Title:        payload.NewGoal.Title,
			Description:  payload.NewGoal.Description,
			TargetAmount: payload.NewGoal.TargetAmount,
			VaultAddress: payload.NewGoal.VaultAddress,
			EndDate:      payload.NewGoal.EndDate,
		}
	}

	att, err := h.deposits.Initiate(r.Context(), userID, req)
	if err != nil {
		writeError(w, depositErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, att)
}

func (h *handler) listDeposits(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}
	list, err := h.deposits.ListAttempts(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}
	att, err := h.deposits.GetAttempt(r.Context(), userID, chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, depositErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func goalErrorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateTitle):
		return http.StatusConflict
	case errors.Is(err, goals.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, goals.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func depositErrorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateTitle):
		return http.StatusConflict
	case errors.Is(err, goals.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, deposits.ErrGoalBusy):
		return http.StatusConflict
	case errors.Is(err, deposits.ErrOverCapacity), errors.Is(err, goals.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
