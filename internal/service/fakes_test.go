package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/gateway"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/repository"
	sqliteRepo "github.com/sakif/notesfy/internal/repository/sqlite"
)

// =========================================================================
// TEST DOUBLES
// =========================================================================
//
// The ledger and withdrawal rules live in SQL transactions, so the
// services are tested against a real in-memory SQLite database. Only the
// edges are faked: file storage and the payment gateway.

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDB(t *testing.T) *sqliteRepo.DB {
	t.Helper()
	db, err := sqliteRepo.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createUser inserts a user directly through the repository.
func createUser(t *testing.T, db *sqliteRepo.DB, username string) *model.User {
	t.Helper()
	u := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "not-a-real-hash",
		Profile:      "http://localhost/uploads/defaultProfile.jpg",
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("setup: CreateUser(%s) error = %v", username, err)
	}
	return u
}

// memStore is an in-memory storage.FileStore.
type memStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func (m *memStore) Save(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, apperror.NotFound("file", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return apperror.NotFound("file", name)
	}
	delete(m.files, name)
	return nil
}

func (m *memStore) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for n := range m.files {
		names = append(names, n)
	}
	return names
}

// failingPosts makes CreatePost fail after the file has been stored.
type failingPosts struct {
	repository.PostRepository
}

func (failingPosts) CreatePost(context.Context, *model.Post) error {
	return errors.New("database is locked")
}

// fakeVerifier accepts exactly one signature per (order, payment) pair:
// "sig:<order>|<payment>".
type fakeVerifier struct{}

func (fakeVerifier) Verify(orderID, paymentID, signature string) error {
	if signature == "" || signature != fakeSign(orderID, paymentID) {
		return apperror.PaymentVerificationFailed("invalid payment signature")
	}
	return nil
}

func fakeSign(orderID, paymentID string) string {
	return "sig:" + orderID + "|" + paymentID
}

type fakeOrderCreator struct {
	got   gateway.OrderRequest
	calls int
	err   error
}

func (f *fakeOrderCreator) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	f.calls++
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Order{
		ID:        "order_1",
		Entity:    "order",
		Amount:    req.Amount.Paise(),
		AmountDue: req.Amount.Paise(),
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
	}, nil
}

// fakePayoutGateway records calls and can fail any step. Payouts are
// idempotent per key, like the real gateway.
type fakePayoutGateway struct {
	mu sync.Mutex

	contactErr     error
	fundAccountErr error
	payoutErr      error
	// dropPayoutResponse executes the payout but reports a timeout, as if
	// the response was lost on the way back.
	dropPayoutResponse bool

	contacts     []gateway.ContactRequest
	fundAccounts []gateway.FundAccountRequest
	payoutCalls  []gateway.PayoutRequest
	payouts      map[string]*gateway.Payout // by idempotency key
}

func newFakePayoutGateway() *fakePayoutGateway {
	return &fakePayoutGateway{payouts: make(map[string]*gateway.Payout)}
}

func (f *fakePayoutGateway) CreateContact(_ context.Context, req gateway.ContactRequest) (*gateway.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contactErr != nil {
		return nil, f.contactErr
	}
	f.contacts = append(f.contacts, req)
	return &gateway.Contact{
		ID:          fmt.Sprintf("cont_%d", len(f.contacts)),
		Entity:      "contact",
		Name:        req.Name,
		Email:       req.Email,
		Type:        "vendor",
		ReferenceID: req.ReferenceID,
	}, nil
}

func (f *fakePayoutGateway) CreateFundAccount(_ context.Context, req gateway.FundAccountRequest) (*gateway.FundAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fundAccountErr != nil {
		return nil, f.fundAccountErr
	}
	f.fundAccounts = append(f.fundAccounts, req)
	return &gateway.FundAccount{
		ID:          fmt.Sprintf("fa_%d", len(f.fundAccounts)),
		Entity:      "fund_account",
		ContactID:   req.ContactID,
		AccountType: "bank_account",
		Active:      true,
	}, nil
}

func (f *fakePayoutGateway) CreatePayout(_ context.Context, req gateway.PayoutRequest) (*gateway.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payoutCalls = append(f.payoutCalls, req)
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	p, ok := f.payouts[req.IdempotencyKey]
	if !ok {
		p = &gateway.Payout{
			ID:            fmt.Sprintf("pout_%d", len(f.payouts)+1),
			Entity:        "payout",
			FundAccountID: req.FundAccountID,
			Amount:        req.Amount.Paise(),
			Currency:      req.Currency,
			Status:        "processing",
			Mode:          req.Mode,
			Purpose:       req.Purpose,
			ReferenceID:   req.ReferenceID,
		}
		f.payouts[req.IdempotencyKey] = p
	}
	if f.dropPayoutResponse {
		return nil, unavailable("create payout")
	}
	return p, nil
}

// distinctPayouts is how many different payouts the gateway would execute.
func (f *fakePayoutGateway) distinctPayouts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payouts)
}

func rejected(operation string) error {
	return &gateway.Error{
		Operation:   operation,
		StatusCode:  400,
		Code:        "BAD_REQUEST_ERROR",
		Description: "The IFSC code is invalid",
	}
}

func unavailable(operation string) error {
	return &gateway.Error{
		Operation: operation,
		Err:       context.DeadlineExceeded,
	}
}
