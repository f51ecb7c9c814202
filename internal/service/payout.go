package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/gateway"
	"github.com/sakif/notesfy/internal/lock"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/money"
	"github.com/sakif/notesfy/internal/observability"
	"github.com/sakif/notesfy/internal/repository"
)

const (
	// DefaultLockWait bounds how long a withdrawal waits for another
	// withdrawal of the same user to finish.
	DefaultLockWait = 30 * time.Second

	payoutPurpose = "payout"
)

var (
	accountNumberPattern = regexp.MustCompile(`^[0-9]{9,18}$`)
	ifscPattern          = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
)

// PayoutConfig holds the fixed parameters of every payout.
type PayoutConfig struct {
	SourceAccount string // RazorpayX account the money leaves from
	Mode          string // IMPS, NEFT, RTGS or UPI
	LockWait      time.Duration
}

// PayoutService pays an author's balance out to their bank account.
//
// THE STATE MACHINE (withdrawal_machine.go):
//
//	initiated → payee_registered → account_registered → payout_submitted → payout_requested → completed
//	    └──────────────┴───────────────────┴──────────→ failed
//
// Each step is persisted before the next gateway call, so a request that
// dies halfway (timeout, crash, 5xx) leaves an active attempt the next
// request picks up where it stopped. The attempt id is sent as the payout
// idempotency key, so re-running the payout step after an unknown outcome
// can't pay twice. Once payout_submitted is recorded the attempt can no
// longer fail.
//
// All of this runs under a per-user lock: two concurrent withdrawals of one
// user never interleave, and the second one sees the first one's result.
type PayoutService struct {
	users   repository.UserRepository
	payouts repository.PayoutRepository
	gateway gateway.PayoutClient
	locker  lock.Locker
	cfg     PayoutConfig
	logger  *slog.Logger
}

func NewPayoutService(
	users repository.UserRepository,
	payouts repository.PayoutRepository,
	gw gateway.PayoutClient,
	locker lock.Locker,
	cfg PayoutConfig,
	logger *slog.Logger,
) *PayoutService {
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	return &PayoutService{
		users:   users,
		payouts: payouts,
		gateway: gw,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
	}
}

// WithdrawInput is a withdrawal request. AccountNumber and IFSC identify the
// destination bank account.
type WithdrawInput struct {
	UserID        string
	Amount        money.Amount
	AccountNumber string
	IFSC          string
}

// WithdrawResult is a completed withdrawal and the gateway's payout.
//
// Debited is what left the balance: the whole balance at the start of the
// attempt, which exceeds the paid amount when less than the balance was
// requested.
type WithdrawResult struct {
	Withdrawal *model.Withdrawal
	Payout     *gateway.Payout
	Debited    money.Amount
}

// Withdraw validates the request, then starts a new attempt or resumes the
// user's active one and drives it to completion.
//
// Gateway rejections (4xx) before the payout is submitted fail the attempt
// for good. Timeouts, network errors, 5xx and any failure after submission
// keep it at its last persisted step; both surface as
// apperror.ErrPayoutGateway. The balance is only touched by the final
// completion step.
func (s *PayoutService) Withdraw(ctx context.Context, in WithdrawInput) (*WithdrawResult, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.IFSC = strings.ToUpper(strings.TrimSpace(in.IFSC))

	switch {
	case in.UserID == "":
		return nil, apperror.ValidationFailed("userId", "user ID is required")
	case in.Amount <= 0:
		return nil, apperror.ValidationFailed("amount", "amount must be greater than zero")
	case !accountNumberPattern.MatchString(in.AccountNumber):
		return nil, apperror.ValidationFailed("accountNumber", "account number must be 9 to 18 digits")
	case !ifscPattern.MatchString(in.IFSC):
		return nil, apperror.ValidationFailed("ifscCode", "invalid IFSC code")
	}

	unlock, err := s.lock(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	user, err := s.users.GetUserByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	w, err := s.payouts.GetActiveWithdrawal(ctx, user.ID)
	switch {
	case err == nil:
		if w.AccountNumber != in.AccountNumber || w.IFSC != in.IFSC || w.Amount != in.Amount {
			observability.WithdrawalsTotal.WithLabelValues("conflict").Inc()
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "another withdrawal is in progress; retry it with the same amount and bank details",
			}
		}
		s.logger.Info("resuming withdrawal",
			slog.String("withdrawalID", w.ID),
			slog.String("userID", user.ID),
			slog.String("state", string(w.State)),
		)
	case errors.Is(err, apperror.ErrNotFound):
		w = &model.Withdrawal{
			UserID:        user.ID,
			Amount:        in.Amount,
			AccountNumber: in.AccountNumber,
			IFSC:          in.IFSC,
		}
		if err := s.payouts.BeginWithdrawal(ctx, w); err != nil {
			if errors.Is(err, apperror.ErrInsufficientBalance) {
				observability.WithdrawalsTotal.WithLabelValues("insufficient_balance").Inc()
				return nil, err
			}
			var appErr *apperror.AppError
			if errors.As(err, &appErr) {
				return nil, err
			}
			return nil, fmt.Errorf("service/payout: starting withdrawal: %w", err)
		}
		s.logger.Info("withdrawal started",
			slog.String("withdrawalID", w.ID),
			slog.String("userID", user.ID),
			slog.String("amount", w.Amount.String()),
			slog.String("account", w.MaskedAccount()),
		)
	default:
		return nil, fmt.Errorf("service/payout: loading active withdrawal: %w", err)
	}

	payout, err := s.advance(ctx, user, w)
	if err != nil {
		return nil, err
	}

	observability.WithdrawalsTotal.WithLabelValues("completed").Inc()
	if w.Amount < w.BalanceSnapshot {
		s.logger.Warn("withdrawal paid less than the debited balance",
			slog.String("withdrawalID", w.ID),
			slog.String("paid", w.Amount.String()),
			slog.String("debited", w.BalanceSnapshot.String()),
		)
	}
	s.logger.Info("withdrawal completed",
		slog.String("withdrawalID", w.ID),
		slog.String("userID", user.ID),
		slog.String("payoutID", w.PayoutID),
		slog.String("amount", w.Amount.String()),
		slog.String("debited", w.BalanceSnapshot.String()),
		slog.String("account", w.MaskedAccount()),
	)
	return &WithdrawResult{Withdrawal: w, Payout: payout, Debited: w.BalanceSnapshot}, nil
}

// ListWithdrawals returns the user's attempts, newest first.
func (s *PayoutService) ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error) {
	withdrawals, err := s.payouts.ListWithdrawals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/payout: listing withdrawals: %w", err)
	}
	return withdrawals, nil
}

// lock waits up to cfg.LockWait for the user's payout lock. Giving up is a
// conflict, not a server error: another withdrawal is still running.
func (s *PayoutService) lock(ctx context.Context, userID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()

	unlock, err := s.locker.Lock(lockCtx, "withdraw:"+userID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("service/payout: waiting for withdrawal lock: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			observability.WithdrawalsTotal.WithLabelValues("conflict").Inc()
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "another withdrawal is in progress, try again shortly",
			}
		}
		return nil, fmt.Errorf("service/payout: acquiring lock: %w", err)
	}
	return unlock, nil
}

// advance runs the remaining steps of w until it completes or a step fails.
func (s *PayoutService) advance(ctx context.Context, user *model.User, w *model.Withdrawal) (*gateway.Payout, error) {
	m := newWithdrawalMachine(w, s.payouts, s.logger)
	var payout *gateway.Payout

	for {
		switch m.State() {
		case model.WithdrawalInitiated:
			contactID, err := s.ensurePayee(ctx, user)
			if err != nil {
				return nil, s.gatewayFailure(ctx, m, "register payee", err)
			}
			w.ContactID = contactID
			if err := m.Fire(ctx, eventRegisterPayee); err != nil {
				return nil, err
			}

		case model.WithdrawalPayeeRegistered:
			fundAccountID, err := s.ensureFundAccount(ctx, user, w)
			if err != nil {
				return nil, s.gatewayFailure(ctx, m, "register bank account", err)
			}
			w.FundAccountID = fundAccountID
			if err := m.Fire(ctx, eventRegisterAccount); err != nil {
				return nil, err
			}

		case model.WithdrawalAccountRegistered:
			// Recorded before the call: if the response is lost the gateway
			// may have paid, and the attempt must stay resumable.
			if err := m.Fire(ctx, eventSubmitPayout); err != nil {
				return nil, err
			}

		case model.WithdrawalPayoutSubmitted:
			p, err := s.requestPayout(ctx, w)
			if err != nil {
				return nil, s.gatewayFailure(ctx, m, "request payout", err)
			}
			payout = p
			w.PayoutID = p.ID
			if err := m.Fire(ctx, eventConfirmPayout); err != nil {
				return nil, err
			}

		case model.WithdrawalPayoutRequested:
			if payout == nil {
				// Resumed after the payout was accepted. The idempotency key
				// makes the gateway return the original payout.
				p, err := s.requestPayout(ctx, w)
				if err != nil {
					return nil, s.gatewayFailure(ctx, m, "request payout", err)
				}
				payout = p
				w.PayoutID = p.ID
			}
			if err := m.Fire(ctx, eventComplete); err != nil {
				return nil, err
			}
			return payout, nil

		default:
			return nil, fmt.Errorf("service/payout: withdrawal %s is in unexpected state %q (terminal=%t)",
				w.ID, w.State, w.State.Terminal())
		}
	}
}

// ensurePayee returns the user's gateway contact, creating it on first use.
// One contact per user, ever.
func (s *PayoutService) ensurePayee(ctx context.Context, user *model.User) (string, error) {
	payee, err := s.payouts.GetPayee(ctx, user.ID)
	if err == nil {
		return payee.ContactID, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return "", fmt.Errorf("loading payee: %w", err)
	}

	contact, err := s.gateway.CreateContact(ctx, gateway.ContactRequest{
		Name:        user.Username,
		Email:       user.Email,
		ReferenceID: user.ID,
	})
	if err != nil {
		return "", err
	}

	if err := s.payouts.SavePayee(ctx, &model.Payee{UserID: user.ID, ContactID: contact.ID}); err != nil {
		return "", fmt.Errorf("saving payee: %w", err)
	}
	return contact.ID, nil
}

// ensureFundAccount returns the gateway fund account for the attempt's bank
// details, creating it on first use.
func (s *PayoutService) ensureFundAccount(ctx context.Context, user *model.User, w *model.Withdrawal) (string, error) {
	account, err := s.payouts.GetFundAccount(ctx, user.ID, w.AccountNumber, w.IFSC)
	if err == nil {
		return account.FundAccountID, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return "", fmt.Errorf("loading fund account: %w", err)
	}

	fa, err := s.gateway.CreateFundAccount(ctx, gateway.FundAccountRequest{
		ContactID:     w.ContactID,
		Name:          user.Username,
		IFSC:          w.IFSC,
		AccountNumber: w.AccountNumber,
	})
	if err != nil {
		return "", err
	}

	if err := s.payouts.SaveFundAccount(ctx, &model.FundAccount{
		UserID:        user.ID,
		AccountNumber: w.AccountNumber,
		IFSC:          w.IFSC,
		FundAccountID: fa.ID,
	}); err != nil {
		return "", fmt.Errorf("saving fund account: %w", err)
	}
	return fa.ID, nil
}

func (s *PayoutService) requestPayout(ctx context.Context, w *model.Withdrawal) (*gateway.Payout, error) {
	return s.gateway.CreatePayout(ctx, gateway.PayoutRequest{
		SourceAccount:  s.cfg.SourceAccount,
		FundAccountID:  w.FundAccountID,
		Amount:         w.Amount,
		Currency:       money.Currency,
		Mode:           s.cfg.Mode,
		Purpose:        payoutPurpose,
		ReferenceID:    w.ID,
		IdempotencyKey: w.ID,
	})
}

// gatewayFailure turns a failed step into the error the caller sees. A
// gateway rejection marks the attempt failed, which frees the user to start
// a new one, but only while no payout has been submitted. Anything else
// leaves it resumable.
func (s *PayoutService) gatewayFailure(ctx context.Context, m *withdrawalMachine, step string, err error) error {
	w := m.w
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		s.logger.Error("withdrawal step failed",
			slog.String("withdrawalID", w.ID),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("service/payout: %s: %w", step, err)
	}

	if !gateway.IsRejected(err) {
		observability.WithdrawalsTotal.WithLabelValues("gateway_unavailable").Inc()
		s.logger.Warn("payout gateway unavailable, withdrawal can be resumed",
			slog.String("withdrawalID", w.ID),
			slog.String("step", step),
			slog.String("state", string(w.State)),
			slog.String("error", err.Error()),
		)
		return apperror.PayoutGateway("payout gateway unavailable, please retry", err.Error())
	}

	if !m.CanFail() {
		// The payout may already be executing under this idempotency key.
		// Closing the attempt would let a new one pay the same balance again.
		observability.WithdrawalsTotal.WithLabelValues("pending").Inc()
		s.logger.Error("payout rejected after submission, withdrawal kept open",
			slog.String("withdrawalID", w.ID),
			slog.String("step", step),
			slog.String("state", string(w.State)),
			slog.String("error", err.Error()),
		)
		return apperror.PayoutGateway("payout is still being processed, please retry later", err.Error())
	}

	reason := step + ": " + gwErr.Code
	if gwErr.Description != "" {
		reason = step + ": " + gwErr.Description
	}
	w.FailureReason = reason
	// The attempt must be closed even if the client has gone away.
	if ferr := m.Fire(context.WithoutCancel(ctx), eventFail); ferr != nil {
		s.logger.Error("failed to mark withdrawal failed",
			slog.String("withdrawalID", w.ID),
			slog.String("error", ferr.Error()),
		)
	}

	observability.WithdrawalsTotal.WithLabelValues("rejected").Inc()
	s.logger.Warn("withdrawal rejected by gateway",
		slog.String("withdrawalID", w.ID),
		slog.String("step", step),
		slog.String("reason", reason),
	)
	return apperror.PayoutGateway("withdrawal failed: could not "+step, err.Error())
}
