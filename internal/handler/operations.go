package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/feed"
	"github.com/Dan9191/finance-ledger/internal/middleware"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/money"
	"github.com/Dan9191/finance-ledger/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// listValues collects a repeatable, comma separated query parameter
func listValues(q map[string][]string, key string) []string {
	var out []string
	for _, raw := range q[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.Invalid(key, key+".invalid", err)
	}
	return n, nil
}

func queryDecimal(r *http.Request, key string) (*decimal.Decimal, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	d, err := money.Parse(raw)
	if err != nil {
		return nil, apperror.Invalid(key, key+".invalid", err)
	}
	return &d, nil
}

const dateLayout = "2006-01-02"

// queryTime parses an RFC3339 instant or a date. A date stands for its first
// instant, or its last one when endOfDay is set.
func queryTime(r *http.Request, key string, endOfDay bool) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperror.Invalid(key, key+".invalid", err)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

// parseFilters reads the feed filters from the query string
func parseFilters(r *http.Request) (feed.Filters, error) {
	q := r.URL.Query()
	f := feed.Filters{
		AccountIDs:  listValues(q, "account"),
		CategoryIDs: listValues(q, "category"),
		Type:        models.SignType(q.Get("type")),
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, apperror.Invalid("type", "type.invalid", nil)
	}

	var err error
	if f.AmountFrom, err = queryDecimal(r, "amountFrom"); err != nil {
		return f, err
	}
	if f.AmountTo, err = queryDecimal(r, "amountTo"); err != nil {
		return f, err
	}
	if f.DateFrom, err = queryTime(r, "dateFrom", false); err != nil {
		return f, err
	}
	if f.DateTo, err = queryTime(r, "dateTo", true); err != nil {
		return f, err
	}
	return f, nil
}

// ListOperations returns a page of the feed
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.svc.ListOperations(r.Context(), userID(r), filters, skip, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) AddOperation(w http.ResponseWriter, r *http.Request) {
	var in service.OperationInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	op, err := h.svc.AddOperation(r.Context(), userID(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, op)
}

func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.svc.GetOperation(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, op)
}

func (h *Handler) UpdateOperation(w http.ResponseWriter, r *http.Request) {
	var upd service.OperationUpdate
	if err := decode(r, &upd); err != nil {
		h.writeError(w, r, err)
		return
	}
	upd.ID = mux.Vars(r)["id"]
	op, err := h.svc.UpdateOperation(r.Context(), userID(r), upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, op)
}

func (h *Handler) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteOperation(r.Context(), userID(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddTransfer(w http.ResponseWriter, r *http.Request) {
	var in service.TransferInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.AddTransfer(r.Context(), userID(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, result)
}

// GetTransfer accepts the transfer id or either leg id
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetTransfer(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) UpdateTransfer(w http.ResponseWriter, r *http.Request) {
	var upd service.TransferUpdate
	if err := decode(r, &upd); err != nil {
		h.writeError(w, r, err)
		return
	}
	upd.ID = mux.Vars(r)["id"]
	result, err := h.svc.UpdateTransfer(r.Context(), userID(r), upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) DeleteTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTransfer(r.Context(), userID(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.GetCategoryTree(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tree)
}

// SaveCategories replaces the whole tree with the request body
func (h *Handler) SaveCategories(w http.ResponseWriter, r *http.Request) {
	blob, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tree, err := h.svc.SaveCategoryTree(r.Context(), userID(r), blob)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tree)
}

// Summary converts balances into ?currency=, default the configured base
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context(), userID(r), r.URL.Query().Get("currency"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) Rates(w http.ResponseWriter, r *http.Request) {
	table, err := h.svc.Rates(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"rates": table})
}
