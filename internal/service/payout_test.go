package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/gateway"
	"github.com/sakif/notesfy/internal/lock"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/money"
	sqliteRepo "github.com/sakif/notesfy/internal/repository/sqlite"
)

const (
	testAccount       = "123456789012"
	testIFSC          = "HDFC0001234"
	testSourceAccount = "2323230000000000"
)

type payoutFixture struct {
	db     *sqliteRepo.DB
	gw     *fakePayoutGateway
	locker *lock.Memory
	svc    *PayoutService
}

func newPayoutFixture(t *testing.T) *payoutFixture {
	t.Helper()
	db := newTestDB(t)
	gw := newFakePayoutGateway()
	locker := lock.NewMemory()
	svc := NewPayoutService(db, db, gw, locker, PayoutConfig{
		SourceAccount: testSourceAccount,
		Mode:          "IMPS",
		LockWait:      time.Second,
	}, newTestLogger())
	return &payoutFixture{db: db, gw: gw, locker: locker, svc: svc}
}

// fund credits user with n paid downloads of 1.50 each, through the ledger.
func (f *payoutFixture) fund(t *testing.T, user *model.User, n int) {
	t.Helper()
	ctx := context.Background()
	post := &model.Post{AuthorID: user.ID, Chapter: "Funding", Subject: "Maths", Filename: "funding.pdf"}
	require.NoError(t, f.db.CreatePost(ctx, post))
	for i := 0; i < n; i++ {
		_, err := f.db.RecordDownload(ctx, &model.Download{
			PaymentID: fmt.Sprintf("%s_pay_%d", post.ID, i),
			OrderID:   "order",
			PostID:    post.ID,
			OwnerID:   user.ID,
			Reward:    testReward,
		})
		require.NoError(t, err)
	}
}

func (f *payoutFixture) balance(t *testing.T, user *model.User) money.Amount {
	t.Helper()
	amount, _ := ledgerOf(t, f.db, user.ID)
	return amount
}

func withdrawal(user *model.User, amount money.Amount) WithdrawInput {
	return WithdrawInput{UserID: user.ID, Amount: amount, AccountNumber: testAccount, IFSC: testIFSC}
}

func TestWithdraw_Success(t *testing.T) {
	f := newPayoutFixture(t)
	user := createUser(t, f.db, "author")
	f.fund(t, user, 2)

	in := withdrawal(user, money.Rupees(3, 0))
	in.IFSC = " hdfc0001234 "
	result, err := f.svc.Withdraw(context.Background(), in)
	require.NoError(t, err)

	w := result.Withdrawal
	assert.Equal(t, model.WithdrawalCompleted, w.State)
	assert.Equal(t, testIFSC, w.IFSC)
	assert.Equal(t, money.Rupees(3, 0), w.BalanceSnapshot)
	assert.Equal(t, result.Payout.ID, w.PayoutID)
	assert.Equal(t, int64(300), result.Payout.Amount)

	require.Len(t, f.gw.contacts, 1)
	assert.Equal(t, user.ID, f.gw.contacts[0].ReferenceID)
	require.Len(t, f.gw.fundAccounts, 1)
	assert.Equal(t, "cont_1", f.gw.fundAccounts[0].ContactID)
	assert.Equal(t, testAccount, f.gw.fundAccounts[0].AccountNumber)

	require.Len(t, f.gw.payoutCalls, 1)
	req := f.gw.payoutCalls[0]
	assert.Equal(t, w.ID, req.IdempotencyKey)
	assert.Equal(t, testSourceAccount, req.SourceAccount)
	assert.Equal(t, "fa_1", req.FundAccountID)
	assert.Equal(t, "INR", req.Currency)
	assert.Equal(t, "IMPS", req.Mode)

	assert.Zero(t, f.balance(t, user))
}

// A withdrawal of part of the balance still closes out the snapshot: the
// balance ends at exactly zero, never negative.
func TestWithdraw_ResetsBalanceToZero(t *testing.T) {
	f := newPayoutFixture(t)
	user := createUser(t, f.db, "author")
	f.fund(t, user, 2)

	result, err := f.svc.Withdraw(context.Background(), withdrawal(user, money.Rupees(1, 0)))
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Payout.Amount)
	assert.Equal(t, money.Rupees(3, 0), result.Debited)
	assert.Equal(t, money.Amount(0), f.balance(t, user))
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	f := newPayoutFixture(t)
	user := createUser(t, f.db, "author")
	f.fund(t, user, 1)

	for _, amount := range []money.Amount{money.Rupees(1, 51), money.Rupees(5, 0), money.Rupees(1000, 0)} {
		_, err := f.svc.Withdraw(context.Background(), withdrawal(user, amount))
		assert.True(t, errors.Is(err, apperror.ErrInsufficientBalance), "%s: got %v", amount, err)
	}

	assert.Equal(t, testReward, f.balance(t, user))
	assert.Empty(t, f.gw.contacts)
	assert.Empty(t, f.gw.payoutCalls)

	history, err := f.svc.ListWithdrawals(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWithdraw_Validation(t *testing.T) {
	f := newPayoutFixture(t)
	user := createUser(t, f.db, "author")
	f.fund(t, user, 1)

	tests := []struct {
		name   string
		mutate func(in *WithdrawInput)
		field  string
	}{
		{"zero amount", func(in *WithdrawInput) { in.Amount = 0 }, "amount"},
		{"negative amount", func(in *WithdrawInput) { in.Amount = -100 }, "amount"},
		{"short account", func(in *WithdrawInput) { in.AccountNumber = "12345678" }, "accountNumber"},
		{"letters in account", func(in *WithdrawInput) { in.AccountNumber = "12345678901a" }, "accountNumber"},
		{"bad IFSC", func(in *WithdrawInput) { in.IFSC = "HDFC1001234" }, "ifscCode"},
		{"short IFSC", func(in *WithdrawInput) { in.IFSC = "HDFC0" }, "ifscCode"},
		{"missing user", func(in *WithdrawInput) { in.UserID = "" }, "userId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := withdrawal(user, money.Rupees(1, 0))
			tt.mutate(&in)
			_, err := f.svc.Withdraw(context.Background(), in)
			require.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)

			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
	assert.Equal(t, testReward, f.balance(t, user))
}

func TestWithdraw_UnknownUser(t *testing.T) {
	f := newPayoutFixture(t)

	_, err := f.svc.Withdraw(context.Background(), WithdrawInput{
		UserID: "ghost", Amount: money.Rupees(1, 0), AccountNumber: testAccount, IFSC: testIFSC,
	})
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func TestWithdraw_ReusesPayeeAndFundAccount(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	user := createUser(t, f.db, "author")

	f.fund(t, user, 1)
	_, err := f.svc.Withdraw(ctx, withdrawal(user, testReward))
	require.NoError(t, err)

	f.fund(t, user, 1)
	_, err = f.svc.Withdraw(ctx, withdrawal(user, testReward))
	require.NoError(t, err)

	assert.Len(t, f.gw.contacts, 1, "one contact per user")
	assert.Len(t, f.gw.fundAccounts, 1, "same bank account is registered once")

	f.fund(t, user, 1)
	in := withdrawal(user, testReward)
	in.AccountNumber = "999988887777"
	_, err = f.svc.Withdraw(ctx, in)
	require.NoError(t, err)

	assert.Len(t, f.gw.contacts, 1)
	assert.Len(t, f.gw.fundAccounts, 2)
	assert.Equal(t, 3, f.gw.distinctPayouts())
}

// A timeout keeps the attempt at its last persisted step; the next request
// picks it up there without repeating finished steps or touching the
// balance in between.
func TestWithdraw_ResumesAfterGatewayOutage(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	user := createUser(t, f.db, "author")
	f.fund(t, user, 2)
	in := withdrawal(user, money.Rupees(3, 0))

	f.gw.payoutErr = unavailable("create payout")
	_, err := f.svc.Withdraw(ctx, in)
	require.True(t, errors.Is(err, apperror.ErrPayoutGateway), "got %v", err)

	assert.Equal(t, money.Rupees(3, 0), f.balance(t, user))
	active, err := f.db.GetActiveWithdrawal(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPayoutSubmitted, active.State)

	f.gw.payoutErr = nil
	result, err := f.svc.Withdraw(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, active.ID, result.Withdrawal.ID)
	assert.Len(t, f.gw.contacts, 1)
	assert.Len(t, f.gw.fundAccounts, 1)
	assert.Equal(t, 1, f.gw.distinctPayouts())
	assert.Zero(t, f.balance(t, user))
}

// The payout went through but its response was lost. Retrying sends the
// same idempotency key, so the gateway hands back the original payout.
func TestWithdraw_LostPayoutResponseDoesNotPayTwice(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	user := createUser(t, f.db, "author")
	f.fund(t, user, 2)
	in := withdrawal(user, money.Rupees(3, 0))

	f.gw.dropPayoutResponse = true
	_, err := f.svc.Withdraw(ctx, in)
	require.True(t, errors.Is(err, apperror.ErrPayoutGateway), "got %v", err)
	assert.Equal(t, money.Rupees(3, 0), f.balance(t, user))

	f.gw.dropPayoutResponse = false
	result, err := f.svc.Withdraw(ctx, in)
	require.NoError(t, err)

	require.Len(t, f.gw.payoutCalls, 2)
	assert.Equal(t, f.gw.payoutCalls[0].IdempotencyKey, f.gw.payoutCalls[1].IdempotencyKey)
	assert.Equal(t, 1, f.gw.distinctPayouts())
	assert.Equal(t, "pout_1", result.Payout.ID)
	assert.Zero(t, f.balance(t, user))
}

// The payout executed but its response was lost, and the retry is refused
// (the gateway is still processing that key). The attempt must stay open:
// closing it would let the next request pay the same balance again.
func TestWithdraw_RejectionAfterSubmissionKeepsAttempt(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	user := createUser(t, f.db, "author")
	f.fund(t, user, 2)
	in := withdrawal(user, money.Rupees(3, 0))

	f.gw.dropPayoutResponse = true
	_, err := f.svc.Withdraw(ctx, in)
	require.True(t, errors.Is(err, apperror.ErrPayoutGateway), "got %v", err)

	f.gw.dropPayoutResponse = false
	f.gw.payoutErr = &gateway.Error{
		Operation:   "create payout",
		StatusCode:  409,
		Code:        "BAD_REQUEST_ERROR",
		Description: "payout with this idempotency key is in progress",
	}
	_, err = f.svc.Withdraw(ctx, in)
	require.True(t, errors.Is(err, apperror.ErrPayoutGateway), "got %v", err)

	active, err := f.db.GetActiveWithdrawal(ctx, user.ID)
	require.NoError(t, err, "attempt stays open after a post-submission rejection")
	assert.Equal(t, model.WithdrawalPayoutSubmitted, active.State)
	assert.Empty(t, active.FailureReason)
	assert.Equal(t, money.Rupees(3, 0), f.balance(t, user))

	f.gw.payoutErr = nil
	result, err := f.svc.Withdraw(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, active.ID, result.Withdrawal.ID)

	require.Len(t, f.gw.payoutCalls, 3)
	for _, call := range f.gw.payoutCalls {
		assert.Equal(t, active.ID, call.IdempotencyKey)
	}
	assert.Equal(t, 1, f.gw.distinctPayouts())
	assert.Zero(t, f.balance(t, user))

	history, err := f.svc.ListWithdrawals(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.WithdrawalCompleted, history[0].State)
}

func TestWithdraw_RejectionFailsAttempt(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	user := createUser(t, f.db, "author")
	f.fund(t, user, 2)

	f.gw.fundAccountErr = rejected("create fund account")
	_, err := f.svc.Withdraw(ctx, withdrawal(user, money.Rupees(3, 0)))
	require.True(t, errors.Is(err, apperror.ErrPayoutGateway), "got %v", err)
	assert.NotContains(t, err.Error(), "IFSC code is invalid", "gateway detail stays out of the client message")

	assert.Equal(t, money.Rupees(3, 0), f.balance(t, user))
	_, err = f.db.GetActiveWithdrawal(ctx, user.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "failed attempt is no longer active")

	history, err := f.svc.ListWithdrawals(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.WithdrawalFailed, history[0].State)
	assert.Contains(t, history[0].FailureReason, "The IFSC code is invalid")
	assert.Equal(t, "cont_1", history[0].ContactID)

	// a fresh attempt is allowed and reuses the stored contact
	f.gw.fundAccountErr = nil
	_, err = f.svc.Withdraw(ctx, withdrawal(user, money.Rupees(3, 0)))
	require.NoError(t, err)
	assert.Len(t, f.gw.contacts, 1)
	assert.Zero(t, f.balance(t, user))
}

func TestWithdraw_ActiveAttemptWithDifferentDetails(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	user := createUser(t, f.db, "author")
	f.fund(t, user, 2)

	f.gw.contactErr = unavailable("create contact")
	_, err := f.svc.Withdraw(ctx, withdrawal(user, money.Rupees(3, 0)))
	require.True(t, errors.Is(err, apperror.ErrPayoutGateway))

	f.gw.contactErr = nil
	_, err = f.svc.Withdraw(ctx, withdrawal(user, money.Rupees(1, 0)))
	assert.True(t, errors.Is(err, apperror.ErrConflict), "got %v", err)
	assert.Equal(t, money.Rupees(3, 0), f.balance(t, user))
}

// Concurrent withdrawals of one balance: exactly one is paid, the rest see
// the empty balance.
func TestWithdraw_ConcurrentRequestsPayOnce(t *testing.T) {
	f := newPayoutFixture(t)
	user := createUser(t, f.db, "author")
	f.fund(t, user, 2)

	const n = 8
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Withdraw(context.Background(), withdrawal(user, money.Rupees(3, 0)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperror.ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, insufficient)
	assert.Equal(t, 1, f.gw.distinctPayouts())
	assert.Zero(t, f.balance(t, user))
}

func TestWithdraw_LockTimeoutIsConflict(t *testing.T) {
	f := newPayoutFixture(t)
	f.svc.cfg.LockWait = 20 * time.Millisecond
	user := createUser(t, f.db, "author")
	f.fund(t, user, 1)

	unlock, err := f.locker.Lock(context.Background(), "withdraw:"+user.ID)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.Withdraw(context.Background(), withdrawal(user, testReward))
	assert.True(t, errors.Is(err, apperror.ErrConflict), "got %v", err)
	assert.Equal(t, testReward, f.balance(t, user))
}

func TestWithdraw_ClientGoneWhileWaitingForLock(t *testing.T) {
	f := newPayoutFixture(t)
	user := createUser(t, f.db, "author")
	f.fund(t, user, 1)

	unlock, err := f.locker.Lock(context.Background(), "withdraw:"+user.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.Withdraw(ctx, withdrawal(user, testReward))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Contains(t, err.Error(), "withdrawal lock")
}

func TestListWithdrawals(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	user := createUser(t, f.db, "author")
	other := createUser(t, f.db, "other")

	f.fund(t, user, 1)
	first, err := f.svc.Withdraw(ctx, withdrawal(user, testReward))
	require.NoError(t, err)
	f.fund(t, user, 1)
	second, err := f.svc.Withdraw(ctx, withdrawal(user, testReward))
	require.NoError(t, err)

	history, err := f.svc.ListWithdrawals(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	ids := []string{history[0].ID, history[1].ID}
	assert.ElementsMatch(t, []string{first.Withdrawal.ID, second.Withdrawal.ID}, ids)

	none, err := f.svc.ListWithdrawals(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}
