package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"billfold/internal/core"
	"billfold/internal/services"
	"billfold/internal/storage"

	"github.com/go-chi/chi/v5"
)

type templateRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Category    string `json:"category"`
	Kind        string `json:"kind,omitempty"`
	Frequency   string `json:"frequency"`
	NextDueDate string `json:"next_due_date"`
}

type templateResponse struct {
	ID                int64  `json:"id"`
	Description       string `json:"description"`
	AmountCents       int64  `json:"amount_cents"`
	Amount            string `json:"amount"`
	Direction         string `json:"direction"`
	Category          string `json:"category"`
	Kind              string `json:"kind,omitempty"`
	Frequency         string `json:"frequency"`
	NextDueDate       string `json:"next_due_date"`
	LastGeneratedDate string `json:"last_generated_date,omitempty"`
	Active            bool   `json:"active"`
}

type transactionResponse struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Category    string `json:"category"`
	Kind        string `json:"kind,omitempty"`
	Date        string `json:"date"`
	WalletID    string `json:"wallet_id,omitempty"`
}

func toTemplateResponse(t core.RecurringTemplate) templateResponse {
	resp := templateResponse{
		ID:          t.ID,
		Description: t.Description,
		AmountCents: t.Amount.Cents,
		Amount:      core.FormatCents(t.Amount.Cents),
		Direction:   string(t.Direction),
		Category:    t.Category,
		Kind:        string(t.Kind),
		Frequency:   string(t.Frequency),
		NextDueDate: t.NextDueDate.String(),
		Active:      t.Active,
	}
	if !t.LastGeneratedDate.IsZero() {
		resp.LastGeneratedDate = t.LastGeneratedDate.String()
	}
	return resp
}

func toTransactionResponse(tx core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		Description: tx.Description,
		AmountCents: tx.Amount.Cents,
		Amount:      core.FormatCents(tx.Amount.Cents),
		Direction:   string(tx.Direction),
		Category:    tx.Category,
		Kind:        string(tx.Kind),
		Date:        tx.Date.String(),
		WalletID:    tx.WalletID,
	}
}

func (s *Server) templateFromRequest(req templateRequest, ownerID string) (core.RecurringTemplate, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.RecurringTemplate{}, err
	}

	due, err := time.Parse("2006-01-02", req.NextDueDate)
	if err != nil {
		return core.RecurringTemplate{}, core.ErrInvalidDate
	}

	return core.RecurringTemplate{
		OwnerID:     ownerID,
		Description: req.Description,
		Amount:      core.Money{Cents: cents},
		Direction:   core.Direction(req.Direction),
		Category:    req.Category,
		Kind:        core.ExpenseKind(req.Kind),
		Frequency:   core.Frequency(req.Frequency),
		NextDueDate: core.Date{Time: due},
	}, nil
}

func templateID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	templates, err := s.obligations.ListTemplates(r.Context(), owner)
	if err != nil {
		slog.ErrorContext(r.Context(), "List templates failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list templates")
		return
	}

	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, toTemplateResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tmpl, err := s.templateFromRequest(req, owner)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id, err := s.obligations.CreateTemplate(r.Context(), tmpl)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	created, err := s.obligations.GetTemplate(r.Context(), owner, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Reload created template failed", "template_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "template created but could not be loaded")
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(*created))
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id, err := templateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	tmpl, err := s.obligations.GetTemplate(r.Context(), owner, id)
	if errors.Is(err, storage.ErrTemplateNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Get template failed", "template_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load template")
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(*tmpl))
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id, err := templateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tmpl, err := s.templateFromRequest(req, owner)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	err = s.obligations.UpdateTemplate(r.Context(), owner, id, tmpl)
	if errors.Is(err, storage.ErrTemplateNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	updated, err := s.obligations.GetTemplate(r.Context(), owner, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Reload updated template failed", "template_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "template updated but could not be loaded")
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(*updated))
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id, err := templateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	err = s.obligations.DeleteTemplate(r.Context(), owner, id)
	if errors.Is(err, storage.ErrTemplateNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Delete template failed", "template_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleTemplate(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id, err := templateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	tmpl, err := s.obligations.GetTemplate(r.Context(), owner, id)
	if errors.Is(err, storage.ErrTemplateNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Toggle template failed", "template_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not toggle template")
		return
	}

	if err := s.obligations.SetTemplateActive(r.Context(), owner, id, !tmpl.Active); err != nil {
		slog.ErrorContext(r.Context(), "Toggle template failed", "template_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not toggle template")
		return
	}

	tmpl.Active = !tmpl.Active
	writeJSON(w, http.StatusOK, toTemplateResponse(*tmpl))
}

func (s *Server) handleUpcomingBills(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		days = parsed
	}

	bills, err := s.obligations.ListUpcoming(r.Context(), owner, days)
	if err != nil {
		slog.ErrorContext(r.Context(), "List upcoming bills failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list upcoming bills")
		return
	}

	out := make([]templateResponse, 0, len(bills))
	for _, b := range bills {
		out = append(out, toTemplateResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePayBill(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id, err := templateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	tx, err := s.obligations.PayBill(r.Context(), owner, id, idempotencyKey)
	switch {
	case errors.Is(err, storage.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "template not found")
		return
	case errors.Is(err, services.ErrTemplateInactive):
		writeError(w, http.StatusConflict, "template is paused")
		return
	case errors.Is(err, services.ErrScheduleNotAdvanced):
		// The ledger entry exists; surface the inconsistency to the caller.
		slog.ErrorContext(r.Context(), "Pay bill left schedule behind", "template_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "payment recorded but schedule not advanced")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "Pay bill failed", "template_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not pay bill")
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(*tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	txs, err := s.obligations.ListTransactions(r.Context(), owner, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "List transactions failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list transactions")
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, out)
}
