package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/auth"
	"github.com/sakif/notesfy/internal/gateway"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/money"
	"github.com/sakif/notesfy/internal/service"
)

// OrderService creates checkout orders.
type OrderService interface {
	CreateOrder(ctx context.Context) (*gateway.Order, error)
}

// DownloadService turns a payment proof into a PDF stream.
type DownloadService interface {
	Download(ctx context.Context, postID, payerID string, proof service.PaymentProof) (*service.DownloadResult, error)
}

// PayoutService withdraws earnings to a bank account.
type PayoutService interface {
	Withdraw(ctx context.Context, in service.WithdrawInput) (*service.WithdrawResult, error)
	ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error)
}

// proofFields are the names the checkout widget posts its result under.
var proofFields = [...]string{"razorpay_order_id", "razorpay_payment_id", "razorpay_signature"}

// PaymentHandler serves the money-moving endpoints: order creation, paid
// downloads and withdrawals.
type PaymentHandler struct {
	orders    OrderService
	downloads DownloadService
	payouts   PayoutService
	logger    *slog.Logger
}

func NewPaymentHandler(orders OrderService, downloads DownloadService, payouts PayoutService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		orders:    orders,
		downloads: downloads,
		payouts:   payouts,
		logger:    logger,
	}
}

// HandleCreateOrder opens a checkout for one download.
//
// HTTP: POST /create-order
// RESPONSE: {"order": {...gateway order...}}
func (h *PaymentHandler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.CreateOrder(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// HandleDownload verifies a payment and streams the post's PDF.
//
// HTTP: POST /downloadPdf?id=<postId>
// REQUEST BODY (JSON or form):
//
//	{"razorpay_order_id": "...", "razorpay_payment_id": "...", "razorpay_signature": "..."}
//
// RESPONSE: the PDF as an attachment named after the chapter.
//
// STREAMING:
// Once the first byte is written the status line is gone, so a copy
// failure can only be logged. The author was already credited by then.
func (h *PaymentHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	for _, name := range proofFields {
		if strings.TrimSpace(fields[name]) == "" {
			writeError(w, r, h.logger, apperror.ValidationFailed(name, name+" is required"))
			return
		}
	}

	payerID, _ := auth.UserIDFromContext(r.Context())
	result, err := h.downloads.Download(r.Context(), r.URL.Query().Get("id"), payerID, service.PaymentProof{
		OrderID:   fields["razorpay_order_id"],
		PaymentID: fields["razorpay_payment_id"],
		Signature: fields["razorpay_signature"],
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer result.File.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if n, err := io.Copy(w, result.File); err != nil {
		h.logger.Warn("download stream interrupted",
			slog.String("postID", result.Post.ID),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
}

// HandleWithdraw pays the authenticated user's earnings out to a bank
// account.
//
// HTTP: POST /withdraw
// Auth: Required
// REQUEST BODY: {"userId": "...", "amount": 12.5, "accountNumber": "...", "ifscCode": "..."}
// RESPONSE: {"message": "Withdrawal successful", "payoutResponse": {...}, "withdrawal": {...}, "debited": 15.0}
//
// userId is optional; when present it must be the token's user. A
// withdrawal closes out the whole balance: "debited" is what was removed,
// which is more than the payout when less than the balance was requested.
func (h *PaymentHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if claimed := strings.TrimSpace(fields["userId"]); claimed != "" && claimed != userID {
		writeError(w, r, h.logger, apperror.Forbidden("cannot withdraw another user's earnings"))
		return
	}

	amount, err := money.Parse(strings.TrimSpace(fields["amount"]))
	if err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("amount", "amount must be a rupee value with at most two decimals"))
		return
	}

	result, err := h.payouts.Withdraw(r.Context(), service.WithdrawInput{
		UserID:        userID,
		Amount:        amount,
		AccountNumber: fields["accountNumber"],
		IFSC:          fields["ifscCode"],
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Withdrawal successful",
		"payoutResponse": result.Payout,
		"withdrawal":     result.Withdrawal,
		"debited":        result.Debited,
	})
}

// HandleWithdrawals lists the authenticated user's withdrawal attempts.
//
// HTTP: GET /withdrawals
// Auth: Required
func (h *PaymentHandler) HandleWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	withdrawals, err := h.payouts.ListWithdrawals(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": withdrawals})
}
