package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/contract-service/application"
	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/security"
)

// ContractHandlers contains contract HTTP handlers
type ContractHandlers struct {
	createContract      *application.CreateContract
	signContract        *application.SignContract
	getContract         *application.GetContract
	listContracts       *application.ListContracts
	getHistory          *application.GetContractHistory
	adjustCapacity      *application.AdjustSupplierCapacity
	getSupplierCapacity *application.GetSupplierCapacity
}

// NewContractHandlers creates new contract handlers
func NewContractHandlers(
	createContract *application.CreateContract,
	signContract *application.SignContract,
	getContract *application.GetContract,
	listContracts *application.ListContracts,
	getHistory *application.GetContractHistory,
	adjustCapacity *application.AdjustSupplierCapacity,
	getSupplierCapacity *application.GetSupplierCapacity,
) *ContractHandlers {
	return &ContractHandlers{
		createContract:      createContract,
		signContract:        signContract,
		getContract:         getContract,
		listContracts:       listContracts,
		getHistory:          getHistory,
		adjustCapacity:      adjustCapacity,
		getSupplierCapacity: getSupplierCapacity,
	}
}

// ErrorResponse is the body of every failed request. Saga fields are set
// when contract creation did not complete.
type ErrorResponse struct {
	Error      string `json:"error"`
	ContractID string `json:"contract_id,omitempty"`
	SagaID     string `json:"saga_id,omitempty"`
	SagaStatus string `json:"saga_status,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	FailedStep string `json:"failed_step,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// RegisterRoutes registers contract and supplier routes
func (h *ContractHandlers) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RolesMiddleware)

		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", h.CreateContract)
			r.Get("/", h.ListContracts)
			r.Get("/{id}", h.GetContract)
			r.Post("/{id}/sign", h.SignContract)
			r.Get("/{id}/history", h.GetContractHistory)
		})

		r.Route("/suppliers/{id}/capacity", func(r chi.Router) {
			r.Get("/", h.GetSupplierCapacity)
			r.Put("/", h.AdjustSupplierCapacity)
		})
	})
}

// RolesMiddleware reads the caller roles from the X-User-Roles header.
// Requests without the header act as a buyer.
func RolesMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roles, err := security.ParseRoles(r.Header.Get(security.RoleHeader))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		if len(roles) == 0 {
			roles = []security.Role{security.RoleBuyer}
		}
		next.ServeHTTP(w, r.WithContext(security.WithRoles(r.Context(), roles)))
	})
}

// CreateContract handles contract creation requests
func (h *ContractHandlers) CreateContract(w http.ResponseWriter, r *http.Request) {
	var cmd application.CreateContractCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	cmd.Roles = security.RolesFromContext(r.Context())

	response, err := h.createContract.Execute(r.Context(), &cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}

// ListContracts handles contract listing requests
func (h *ContractHandlers) ListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &application.ListContractsQuery{
		BuyerID:    q.Get("buyer_id"),
		SupplierID: q.Get("supplier_id"),
		Status:     q.Get("status"),
		Roles:      security.RolesFromContext(r.Context()),
	}

	var err error
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a number"})
		return
	}
	if query.Offset, err = intParam(q.Get("offset")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "offset must be a number"})
		return
	}

	response, err := h.listContracts.Execute(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// GetContract handles contract retrieval requests
func (h *ContractHandlers) GetContract(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}

	response, err := h.getContract.Execute(r.Context(), id, security.RolesFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// SignContract handles contract signing requests
func (h *ContractHandlers) SignContract(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}

	response, err := h.signContract.Execute(r.Context(), &application.SignContractCommand{
		ContractID: id,
		Roles:      security.RolesFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// GetContractHistory handles contract history requests
func (h *ContractHandlers) GetContractHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}

	response, err := h.getHistory.Execute(r.Context(), id, security.RolesFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// GetSupplierCapacity handles supplier capacity requests
func (h *ContractHandlers) GetSupplierCapacity(w http.ResponseWriter, r *http.Request) {
	response, err := h.getSupplierCapacity.Execute(r.Context(), chi.URLParam(r, "id"), security.RolesFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// AdjustSupplierCapacity handles supplier capacity updates
func (h *ContractHandlers) AdjustSupplierCapacity(w http.ResponseWriter, r *http.Request) {
	var cmd application.AdjustCapacityCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	cmd.SupplierID = chi.URLParam(r, "id")
	cmd.Roles = security.RolesFromContext(r.Context())

	response, err := h.adjustCapacity.Execute(r.Context(), &cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func contractID(w http.ResponseWriter, r *http.Request) (models.ID, bool) {
	id, err := models.NewID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid contract ID"})
		return "", false
	}
	return id, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// writeError maps use case errors to HTTP statuses. A saga that rolled back
// cleanly is retryable unless a step rejected the request itself.
func writeError(w http.ResponseWriter, err error) {
	var failure *application.SagaFailure
	if errors.As(err, &failure) {
		body := ErrorResponse{
			Error:      err.Error(),
			ContractID: failure.ContractID.String(),
			SagaID:     failure.SagaID.String(),
			SagaStatus: failure.Status.String(),
			Outcome:    string(failure.Outcome),
			FailedStep: failure.FailedStep,
		}
		switch {
		case errors.Is(err, application.ErrManualInterventionRequired):
			writeJSON(w, http.StatusInternalServerError, body)
		case errors.Is(err, domain.ErrInvalidContract):
			writeJSON(w, http.StatusBadRequest, body)
		case failure.Declined:
			writeJSON(w, http.StatusConflict, body)
		default:
			body.Retryable = true
			writeJSON(w, http.StatusServiceUnavailable, body)
		}
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, security.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrContractNotFound), errors.Is(err, domain.ErrSupplierNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidContract), errors.Is(err, domain.ErrInvalidCapacity):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConcurrentModification):
		status = http.StatusConflict
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
