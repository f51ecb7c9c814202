package handler

// RESPONSE HELPERS:
// These functions standardise how we read requests and send JSON responses
// and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "post not found with id abc123"}
//
// Validation errors also name the offending field:
//   {"error": "validation_error", "message": "...", "field": "ifscCode"}

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/auth"
)

// maxFieldsBytes bounds non-upload request bodies.
const maxFieldsBytes = 1 << 20

// statusClientClosedRequest is logged for requests the client abandoned
// (nginx's 499). Nobody reads the response.
const statusClientClosedRequest = 499

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input, for validation errors
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body. Once Encode writes,
// the headers are gone and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorMapping is one row of the domain error → HTTP translation table.
type errorMapping struct {
	target    error
	status    int
	errorType string
}

// errorMappings is checked in order with errors.Is, which walks the whole
// wrap chain:
//
//	service returns: fmt.Errorf("service/payout: ...: %w", apperror.PayoutGateway(...))
//	which wraps:     AppError{Err: ErrPayoutGateway, ...}
//	errors.Is walks: outer error → AppError → ErrPayoutGateway ✓ match!
var errorMappings = []errorMapping{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrPaymentVerification, http.StatusBadRequest, "payment_verification_failed"},
	{apperror.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrGateway, http.StatusBadGateway, "gateway_error"},
	{apperror.ErrPayoutGateway, http.StatusBadGateway, "payout_gateway_error"},
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// The service layer never knows about HTTP status codes; this is the one
// place they are chosen. AppError.Detail (raw gateway diagnostics) is logged
// here and never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	reqID := chimiddleware.GetReqID(r.Context())

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		logger.Info("client went away",
			slog.String("requestID", reqID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		w.WriteHeader(statusClientClosedRequest)
		return
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "request_too_large",
			Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, m := range errorMappings {
			if !errors.Is(err, m.target) {
				continue
			}
			if m.status >= http.StatusInternalServerError {
				logger.Warn("upstream gateway failure",
					slog.String("requestID", reqID),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
					slog.String("detail", appErr.Detail),
				)
			}
			writeJSON(w, m.status, ErrorResponse{
				Error:   m.errorType,
				Message: appErr.Message,
				Field:   appErr.Field,
			})
			return
		}
	}

	// Unknown error: the raw message may contain SQL, file paths or other
	// internals, so the client only gets a generic 500.
	logger.Error("request failed",
		slog.String("requestID", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// currentUser returns the authenticated user id. RequireAuth rejects
// anonymous requests before they get here; the 401 covers a handler mounted
// without it.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "valid authentication required",
		})
	}
	return userID, ok
}

// readFields returns the top-level fields of a JSON, urlencoded or
// multipart body as strings. Browser forms and API clients post the same
// endpoints either way.
//
// JSON numbers keep their literal text (json.Decoder.UseNumber), so an
// amount like 12.50 reaches money.Parse without a float64 round trip.
func readFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxFieldsBytes)
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxFieldsBytes); err != nil {
				return nil, formError(err)
			}
		} else if err := r.ParseForm(); err != nil {
			return nil, formError(err)
		}
		fields := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			fields[key] = r.PostForm.Get(key)
		}
		return fields, nil
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFieldsBytes))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, apperror.ValidationFailed("body", "request body must be a JSON object")
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			fields[key] = v
		case json.Number:
			fields[key] = v.String()
		case bool:
			fields[key] = strconv.FormatBool(v)
		default:
			return nil, apperror.ValidationFailed(key, key+" must be a string or number")
		}
	}
	return fields, nil
}

// readUpload parses a multipart body of at most limit bytes (plus room for
// the text fields) and returns the named file's contents.
func readUpload(w http.ResponseWriter, r *http.Request, field string, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+maxFieldsBytes)
	if err := r.ParseMultipartForm(limit + maxFieldsBytes); err != nil {
		return nil, formError(err)
	}

	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, apperror.ValidationFailed(field, field+" file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("handler: reading %s: %w", field, err)
	}
	if int64(len(data)) > limit {
		return nil, apperror.ValidationFailed(field, fmt.Sprintf("%s must be at most %d bytes", field, limit))
	}
	return data, nil
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return apperror.ValidationFailed("body", "malformed form body")
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
