package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/config"
	"github.com/Dan9191/finance-ledger/internal/middleware"
	"github.com/Dan9191/finance-ledger/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// maxBodySize bounds request bodies, category trees included
const maxBodySize = 1 << 20

type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// NewRouter wires every route. Everything except /register, /login and
// /health requires a bearer token.
func NewRouter(h *Handler, cfg *config.Config, log *logrus.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger(log), middleware.Recovery(log))

	// Public routes
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")

	// Protected routes
	auth := r.PathPrefix("/").Subrouter()
	auth.Use(middleware.AuthMiddleware(cfg))
	auth.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	auth.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	auth.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	auth.HandleFunc("/accounts/{id}", h.UpdateAccount).Methods("PUT")
	auth.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods("DELETE")

	auth.HandleFunc("/operations", h.ListOperations).Methods("GET")
	auth.HandleFunc("/operations", h.AddOperation).Methods("POST")
	auth.HandleFunc("/operations/{id}", h.GetOperation).Methods("GET")
	auth.HandleFunc("/operations/{id}", h.UpdateOperation).Methods("PUT")
	auth.HandleFunc("/operations/{id}", h.DeleteOperation).Methods("DELETE")

	auth.HandleFunc("/transfers", h.AddTransfer).Methods("POST")
	auth.HandleFunc("/transfers/{id}", h.GetTransfer).Methods("GET")
	auth.HandleFunc("/transfers/{id}", h.UpdateTransfer).Methods("PUT")
	auth.HandleFunc("/transfers/{id}", h.DeleteTransfer).Methods("DELETE")

	auth.HandleFunc("/categories", h.GetCategories).Methods("GET")
	auth.HandleFunc("/categories", h.SaveCategories).Methods("PUT")

	auth.HandleFunc("/summary", h.Summary).Methods("GET")
	auth.HandleFunc("/rates", h.Rates).Methods("GET")
	return r
}

// statusOf maps an error kind to the response status
func statusOf(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidationRequired, apperror.KindValidationInvalid:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case apperror.KindUnauthorized:
		return http.StatusUnauthorized
	case apperror.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal(err)
	}
	status := statusOf(appErr.Kind)
	body := middleware.ErrorBody{Code: appErr.Code, Field: appErr.Field, Message: appErr.Error()}

	switch {
	case status == http.StatusInternalServerError:
		h.log.WithError(err).WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": middleware.RequestIDFrom(r.Context()),
		}).Error("Request failed")
		body = middleware.ErrorBody{Code: appErr.Code, Message: "Internal server error"}
	case status == http.StatusServiceUnavailable:
		h.log.WithError(err).Warn("Dependency unavailable")
		body.Message = "Service temporarily unavailable"
	}
	middleware.WriteError(w, status, body)
}

// decode reads a JSON body into v
func decode(r *http.Request, v interface{}) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperror.Invalid("body", "body.invalid", err)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, apperror.Invalid("body", "body.invalid", err)
	}
	if len(data) > maxBodySize {
		return nil, apperror.Invalid("body", "body.tooLarge", errors.New("request body too large"))
	}
	return data, nil
}

// userID returns the authenticated user; routes without one never reach here
func userID(r *http.Request) string {
	id, _ := middleware.UserID(r.Context())
	return id
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListAccounts returns the user's accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, accounts)
}

// CreateAccount handles account creation
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in service.AccountInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.svc.CreateAccount(r.Context(), userID(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, account)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.GetAccount(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var upd service.AccountUpdate
	if err := decode(r, &upd); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.svc.UpdateAccount(r.Context(), userID(r), mux.Vars(r)["id"], upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAccount(r.Context(), userID(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
