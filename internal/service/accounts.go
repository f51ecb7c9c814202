// Package service contains the business logic layer of the application.
//
// THE THREE LAYERS:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Services take repository interfaces, gateway interfaces and a
// storage.FileStore, never concrete types, so tests can hand them fakes or
// an in-memory SQLite database. They return apperror values; handlers turn
// those into status codes.
//
// THE DEPENDENCY CHAIN:
//
//	main.go creates:  DB, FileStores, gateway client → Services → Handlers
//	At runtime:       Handler calls Service calls Repository / Gateway
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/xid"
	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/auth"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/repository"
	"github.com/sakif/notesfy/internal/storage"
)

const (
	MaxUsernameLength = 50
	MaxEmailLength    = 254
	MinPasswordLength = 8
	MaxPasswordLength = auth.MaxPasswordBytes
	MaxImageBytes     = 5 << 20

	// DefaultProfileImage is served from the image store's directory and
	// shipped with the deployment.
	DefaultProfileImage = "defaultProfile.jpg"
)

// imageExtensions maps the content types accepted for profile pictures to
// the extension the stored file gets.
var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// AccountService handles registration, login and profiles.
type AccountService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	images    storage.FileStore
	imageURL  string // public URL prefix of files in images
	logger    *slog.Logger
}

// NewAccountService wires an AccountService. imageURL is the public prefix
// under which files saved to images are served, e.g.
// "https://notes.example.com/uploads".
func NewAccountService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	images storage.FileStore,
	imageURL string,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		images:    images,
		imageURL:  strings.TrimRight(imageURL, "/"),
		logger:    logger,
	}
}

// AuthResult bundles the user and the issued JWT so the handler can set the
// cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates an account with the default profile picture.
// A taken username or email returns apperror.ErrConflict.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	switch {
	case username == "":
		return nil, apperror.ValidationFailed("username", "username is required")
	case len(username) > MaxUsernameLength:
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	case email == "":
		return nil, apperror.ValidationFailed("email", "email is required")
	case len(email) > MaxEmailLength || !strings.Contains(email, "@"):
		return nil, apperror.ValidationFailed("email", "email is not valid")
	case len(password) < MinPasswordLength:
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	case len(password) > MaxPasswordLength:
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordLength))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/accounts: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Profile:      s.imageURL + "/" + DefaultProfileImage,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("user", username)
		}
		return nil, fmt.Errorf("service/accounts: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Login checks the password and issues a session token. Unknown users and
// wrong passwords get the same error so usernames can't be enumerated.
func (s *AccountService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	invalid := apperror.Unauthorized("invalid username or password")

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, invalid
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/accounts: loading user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash is unreadable",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Info("login rejected", slog.String("userID", user.ID))
		return nil, invalid
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/accounts: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token}, nil
}

// GetUser returns the user with their derived post list.
func (s *AccountService) GetUser(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("userId", "user ID is required")
	}
	return s.users.GetUserByID(ctx, id)
}

// UpdateProfileImage stores a new profile picture and points the user's
// profile URL at it. The previous picture is removed unless it is the
// shared default.
func (s *AccountService) UpdateProfileImage(ctx context.Context, userID string, data []byte) (*model.User, error) {
	if len(data) == 0 {
		return nil, apperror.ValidationFailed("profileImg", "no file uploaded")
	}
	if len(data) > MaxImageBytes {
		return nil, apperror.ValidationFailed("profileImg",
			fmt.Sprintf("image must be %d MB or smaller", MaxImageBytes>>20))
	}
	ext, ok := imageExtensions[http.DetectContentType(data)]
	if !ok {
		return nil, apperror.ValidationFailed("profileImg", "file must be a JPEG, PNG, GIF or WebP image")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	previous := user.Profile

	name := xid.New().String() + ext
	if err := s.images.Save(ctx, name, data); err != nil {
		return nil, fmt.Errorf("service/accounts: saving profile image: %w", err)
	}

	user.Profile = s.imageURL + "/" + name
	if err := s.users.UpdateProfile(ctx, userID, user.Profile); err != nil {
		removeFile(ctx, s.logger, s.images, name)
		return nil, fmt.Errorf("service/accounts: updating profile: %w", err)
	}

	if old, ok := strings.CutPrefix(previous, s.imageURL+"/"); ok && old != DefaultProfileImage {
		removeFile(ctx, s.logger, s.images, old)
	}

	s.logger.Info("profile image updated", slog.String("userID", userID))
	return user, nil
}

// removeFile deletes name from store and only logs on failure. The caller's
// outcome is already decided and an orphaned file is harmless.
func removeFile(ctx context.Context, logger *slog.Logger, store storage.FileStore, name string) {
	err := store.Remove(context.WithoutCancel(ctx), name)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		logger.Error("failed to remove stored file",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}
}
