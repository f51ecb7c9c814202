package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/repository"
)

const (
	eventRegisterPayee   = "register_payee"
	eventRegisterAccount = "register_account"
	eventSubmitPayout    = "submit_payout"
	eventConfirmPayout   = "confirm_payout"
	eventComplete        = "complete"
	eventFail            = "fail"
)

func state(s model.WithdrawalState) string { return string(s) }

// withdrawalEvents is the full transition table. Failing is only possible
// before the payout call has been submitted.
var withdrawalEvents = fsm.Events{
	{Name: eventRegisterPayee, Src: []string{state(model.WithdrawalInitiated)}, Dst: state(model.WithdrawalPayeeRegistered)},
	{Name: eventRegisterAccount, Src: []string{state(model.WithdrawalPayeeRegistered)}, Dst: state(model.WithdrawalAccountRegistered)},
	{Name: eventSubmitPayout, Src: []string{state(model.WithdrawalAccountRegistered)}, Dst: state(model.WithdrawalPayoutSubmitted)},
	{Name: eventConfirmPayout, Src: []string{state(model.WithdrawalPayoutSubmitted)}, Dst: state(model.WithdrawalPayoutRequested)},
	{Name: eventComplete, Src: []string{state(model.WithdrawalPayoutRequested)}, Dst: state(model.WithdrawalCompleted)},
	{Name: eventFail, Src: []string{
		state(model.WithdrawalInitiated),
		state(model.WithdrawalPayeeRegistered),
		state(model.WithdrawalAccountRegistered),
	}, Dst: state(model.WithdrawalFailed)},
}

// withdrawalMachine drives one attempt. Every transition is persisted when
// the new state is entered; completion goes through CompleteWithdrawal so
// the balance debit and the state change commit together.
type withdrawalMachine struct {
	w       *model.Withdrawal
	sm      *fsm.FSM
	payouts repository.PayoutRepository
	logger  *slog.Logger
	saveErr error
}

func newWithdrawalMachine(w *model.Withdrawal, payouts repository.PayoutRepository, logger *slog.Logger) *withdrawalMachine {
	m := &withdrawalMachine{w: w, payouts: payouts, logger: logger}
	m.sm = fsm.NewFSM(
		state(w.State),
		withdrawalEvents,
		fsm.Callbacks{
			"enter_state": m.persist,
		},
	)
	return m
}

func (m *withdrawalMachine) persist(ctx context.Context, e *fsm.Event) {
	prev := m.w.State
	m.w.State = model.WithdrawalState(e.Dst)

	var err error
	if m.w.State == model.WithdrawalCompleted {
		err = m.payouts.CompleteWithdrawal(ctx, m.w)
	} else {
		err = m.payouts.UpdateWithdrawal(ctx, m.w)
	}
	if err != nil {
		m.w.State = prev
		m.saveErr = fmt.Errorf("service/payout: saving withdrawal %s as %s: %w", m.w.ID, e.Dst, err)
		e.Err = m.saveErr
		return
	}
	m.logger.Debug("withdrawal advanced",
		slog.String("withdrawalID", m.w.ID),
		slog.String("event", e.Event),
		slog.String("state", e.Dst),
	)
}

// State is the attempt's current state.
func (m *withdrawalMachine) State() model.WithdrawalState {
	return model.WithdrawalState(m.sm.Current())
}

// CanFail reports whether the attempt may still be closed as failed.
func (m *withdrawalMachine) CanFail() bool {
	return m.sm.Can(eventFail)
}

// Fire runs event and returns the persistence error, if any.
func (m *withdrawalMachine) Fire(ctx context.Context, event string) error {
	m.saveErr = nil
	err := m.sm.Event(ctx, event)
	if m.saveErr != nil {
		return m.saveErr
	}
	if err != nil {
		return fmt.Errorf("service/payout: withdrawal %s: %s from %s: %w", m.w.ID, event, m.w.State, err)
	}
	return nil
}
