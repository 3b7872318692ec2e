package handlers

import (
	"net/http"
	"strconv"

	"savings-tracker/internal/dto"
	"savings-tracker/internal/errors"
	"savings-tracker/internal/services"

	"github.com/labstack/echo/v4"
)

// LedgerHandler exposes the signed-in saver's ledger. Every route runs
// behind RequireAuth; the identity it stores becomes the request's gate.
type LedgerHandler struct {
	ledgerService services.LedgerServiceInterface
}

func NewLedgerHandler(ledgerService services.LedgerServiceInterface) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService}
}

// GetLedger handles GET /ledger
func (h *LedgerHandler) GetLedger(c echo.Context) error {
	snap, err := h.ledgerService.Snapshot(c.Request().Context(), gateFromContext(c))
	if err != nil {
		return SendLedgerError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Data: dto.NewLedgerResponse(snap)})
}

// GetProgress handles GET /ledger/progress
func (h *LedgerHandler) GetProgress(c echo.Context) error {
	snap, err := h.ledgerService.Snapshot(c.Request().Context(), gateFromContext(c))
	if err != nil {
		return SendLedgerError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Data: services.ProjectProgress(snap)})
}

// SetTarget handles PUT /ledger/target
func (h *LedgerHandler) SetTarget(c echo.Context) error {
	var req dto.SetTargetRequest
	if err := c.Bind(&req); err != nil {
		return SendError(c, errors.ValidationGeneral, errors.WithDetails("Invalid request body"))
	}

	if err := c.Validate(req); err != nil {
		return err
	}

	if err := h.ledgerService.SetTarget(c.Request().Context(), gateFromContext(c), req.Target); err != nil {
		return SendLedgerError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{
		Data:    map[string]interface{}{"target": req.Target},
		Message: "Target updated",
	})
}

// AddTransaction handles POST /ledger/transactions
func (h *LedgerHandler) AddTransaction(c echo.Context) error {
	req, err := bindTransaction(c)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	id, err := h.ledgerService.AddTransaction(c.Request().Context(), gateFromContext(c), transactionInput(req))
	if err != nil {
		return SendLedgerError(c, err)
	}

	return c.JSON(http.StatusCreated, SuccessResponse{
		Data:    dto.CreatedTransactionResponse{ID: id},
		Message: "Transaction added",
	})
}

// EditTransaction handles PUT /ledger/transactions/:id
func (h *LedgerHandler) EditTransaction(c echo.Context) error {
	req, err := bindTransaction(c)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	var opts []services.EditOption
	if req.ExpectedVersion != nil {
		opts = append(opts, services.WithExpectedVersion(*req.ExpectedVersion))
	}

	id := c.Param("id")
	if err := h.ledgerService.EditTransaction(c.Request().Context(), gateFromContext(c), id, transactionInput(req), opts...); err != nil {
		return SendLedgerError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{
		Data:    dto.CreatedTransactionResponse{ID: id},
		Message: "Transaction updated",
	})
}

// DeleteTransaction handles DELETE /ledger/transactions/:id?expectedVersion=N
func (h *LedgerHandler) DeleteTransaction(c echo.Context) error {
	var opts []services.EditOption
	if raw := c.QueryParam("expectedVersion"); raw != "" {
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || version < 1 {
			return SendError(c, errors.ValidationInvalidFormat, errors.WithDetails("expectedVersion: must be a positive integer"))
		}
		opts = append(opts, services.WithExpectedVersion(version))
	}

	if err := h.ledgerService.DeleteTransaction(c.Request().Context(), gateFromContext(c), c.Param("id"), opts...); err != nil {
		return SendLedgerError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// Reconcile handles POST /ledger/reconcile
func (h *LedgerHandler) Reconcile(c echo.Context) error {
	result, err := h.ledgerService.Reconcile(c.Request().Context(), gateFromContext(c))
	if err != nil {
		return SendLedgerError(c, err)
	}

	message := "Ledger is consistent"
	if result.Corrected {
		message = "Savings total corrected"
	}

	return c.JSON(http.StatusOK, SuccessResponse{Data: result, Message: message})
}

// bindTransaction returns a nil request once it has already answered the
// client, and a non-nil error for the central error handler.
func bindTransaction(c echo.Context) (*dto.TransactionRequest, error) {
	var req dto.TransactionRequest
	if err := c.Bind(&req); err != nil {
		return nil, SendError(c, errors.ValidationGeneral, errors.WithDetails("Invalid request body"))
	}

	if err := c.Validate(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func transactionInput(req *dto.TransactionRequest) services.TransactionInput {
	return services.TransactionInput{
		Description: req.Description,
		Amount:      req.Amount,
		Date:        req.Date,
		Type:        req.Type,
	}
}
