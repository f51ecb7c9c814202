package handler_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sakif/notesfy/internal/auth"
	"github.com/sakif/notesfy/internal/gateway"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/service"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// asUser marks the request as authenticated, the way RequireAuth would.
func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.WithUserID(r.Context(), userID))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func formRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// multipartRequest builds a multipart body with text fields and at most one
// file.
func multipartRequest(t *testing.T, target string, fields map[string]string, fileField string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("writing field %s: %v", k, err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "upload.bin")
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		fw.Write(file)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// MockAccounts implements handler.AccountService.
type MockAccounts struct {
	CapturedUsername, CapturedEmail, CapturedPassword string
	CapturedUserID                                    string
	CapturedImage                                     []byte

	ReturnUser *model.User
	ReturnAuth *service.AuthResult
	ReturnErr  error
}

func (m *MockAccounts) Register(_ context.Context, username, email, password string) (*model.User, error) {
	m.CapturedUsername, m.CapturedEmail, m.CapturedPassword = username, email, password
	return m.ReturnUser, m.ReturnErr
}

func (m *MockAccounts) Login(_ context.Context, username, password string) (*service.AuthResult, error) {
	m.CapturedUsername, m.CapturedPassword = username, password
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnAuth, nil
}

func (m *MockAccounts) GetUser(_ context.Context, id string) (*model.User, error) {
	m.CapturedUserID = id
	return m.ReturnUser, m.ReturnErr
}

func (m *MockAccounts) UpdateProfileImage(_ context.Context, userID string, data []byte) (*model.User, error) {
	m.CapturedUserID = userID
	m.CapturedImage = data
	return m.ReturnUser, m.ReturnErr
}

// MockCatalog implements handler.CatalogService.
type MockCatalog struct {
	CapturedInput  service.CreatePostInput
	CapturedUserID string
	CapturedPostID string
	CapturedKey    string
	CapturedLimit  int
	CapturedOffset int

	ReturnPost     *model.Post
	ReturnPosts    []model.Post
	ReturnUser     *model.User
	ReturnChapters []model.Chapter
	ReturnLiked    bool
	ReturnErr      error
}

func (m *MockCatalog) CreatePost(_ context.Context, in service.CreatePostInput) (*model.Post, error) {
	m.CapturedInput = in
	return m.ReturnPost, m.ReturnErr
}

func (m *MockCatalog) GetPost(_ context.Context, id string) (*model.Post, error) {
	m.CapturedPostID = id
	return m.ReturnPost, m.ReturnErr
}

func (m *MockCatalog) ToggleLike(_ context.Context, userID, postID string) (bool, error) {
	m.CapturedUserID, m.CapturedPostID = userID, postID
	return m.ReturnLiked, m.ReturnErr
}

func (m *MockCatalog) DeletePost(_ context.Context, userID, postID string) (*model.User, error) {
	m.CapturedUserID, m.CapturedPostID = userID, postID
	return m.ReturnUser, m.ReturnErr
}

func (m *MockCatalog) ListSubjects(context.Context) ([]model.Subject, error) {
	return []model.Subject{{ID: "s1", Title: "Maths"}}, m.ReturnErr
}

func (m *MockCatalog) SearchChapters(_ context.Context, prefix string) ([]model.Chapter, error) {
	m.CapturedKey = prefix
	if m.ReturnChapters == nil {
		return []model.Chapter{}, m.ReturnErr
	}
	return m.ReturnChapters, m.ReturnErr
}

func (m *MockCatalog) PostsBySubject(_ context.Context, subject string, limit, offset int) ([]model.Post, error) {
	m.CapturedKey, m.CapturedLimit, m.CapturedOffset = subject, limit, offset
	return m.ReturnPosts, m.ReturnErr
}

func (m *MockCatalog) PostsByChapter(_ context.Context, chapter string, limit, offset int) ([]model.Post, error) {
	m.CapturedKey, m.CapturedLimit, m.CapturedOffset = chapter, limit, offset
	return m.ReturnPosts, m.ReturnErr
}

// MockPayments implements the order, download and payout services.
type MockPayments struct {
	CapturedPostID   string
	CapturedPayerID  string
	CapturedProof    service.PaymentProof
	CapturedWithdraw service.WithdrawInput
	DownloadCalls    int
	WithdrawCalls    int

	ReturnOrder       *gateway.Order
	ReturnFile        []byte
	ReturnWithdraw    *service.WithdrawResult
	ReturnWithdrawals []model.Withdrawal
	ReturnErr         error
}

func (m *MockPayments) CreateOrder(context.Context) (*gateway.Order, error) {
	return m.ReturnOrder, m.ReturnErr
}

func (m *MockPayments) Download(_ context.Context, postID, payerID string, proof service.PaymentProof) (*service.DownloadResult, error) {
	m.DownloadCalls++
	m.CapturedPostID, m.CapturedPayerID, m.CapturedProof = postID, payerID, proof
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return &service.DownloadResult{
		Post:     &model.Post{ID: postID, Chapter: "Calculus"},
		Filename: "Calculus.pdf",
		File:     io.NopCloser(bytes.NewReader(m.ReturnFile)),
		Credited: true,
	}, nil
}

func (m *MockPayments) Withdraw(_ context.Context, in service.WithdrawInput) (*service.WithdrawResult, error) {
	m.WithdrawCalls++
	m.CapturedWithdraw = in
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnWithdraw, nil
}

func (m *MockPayments) ListWithdrawals(_ context.Context, userID string) ([]model.Withdrawal, error) {
	m.CapturedPayerID = userID
	return m.ReturnWithdrawals, m.ReturnErr
}
