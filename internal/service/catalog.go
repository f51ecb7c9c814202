package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"
	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/repository"
	"github.com/sakif/notesfy/internal/storage"
)

const (
	MaxTitleLength     = 200
	MaxTopicsLength    = 2000
	MaxPDFBytes        = 20 << 20
	DefaultListLimit   = 50
	MaxListLimit       = 200
	ChapterSearchLimit = 20
)

var pdfMagic = []byte("%PDF-")

// CatalogService manages posts: uploads, likes, deletion and browsing.
type CatalogService struct {
	posts   repository.PostRepository
	catalog repository.CatalogRepository
	users   repository.UserRepository
	pdfs    storage.FileStore
	logger  *slog.Logger
}

func NewCatalogService(
	posts repository.PostRepository,
	catalog repository.CatalogRepository,
	users repository.UserRepository,
	pdfs storage.FileStore,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		posts:   posts,
		catalog: catalog,
		users:   users,
		pdfs:    pdfs,
		logger:  logger,
	}
}

// CreatePostInput is an upload as the handler received it.
type CreatePostInput struct {
	AuthorID      string
	Chapter       string
	Subject       string
	Topics        string
	Qualification string
	PDF           []byte
}

// CreatePost stores the PDF and then the post. If the post can't be saved
// the stored file is removed again, so a failed upload leaves nothing
// behind. The repository fills in the author's username.
func (s *CatalogService) CreatePost(ctx context.Context, in CreatePostInput) (*model.Post, error) {
	post := &model.Post{
		AuthorID:      strings.TrimSpace(in.AuthorID),
		Chapter:       strings.TrimSpace(in.Chapter),
		Subject:       strings.TrimSpace(in.Subject),
		Topics:        strings.TrimSpace(in.Topics),
		Qualification: strings.TrimSpace(in.Qualification),
	}

	if post.AuthorID == "" {
		return nil, apperror.ValidationFailed("authorId", "author is required")
	}
	if err := validateTitle("title", post.Chapter); err != nil {
		return nil, err
	}
	if err := validateTitle("subject", post.Subject); err != nil {
		return nil, err
	}
	if len(post.Topics) > MaxTopicsLength {
		return nil, apperror.ValidationFailed("topics",
			fmt.Sprintf("topics must be %d characters or less", MaxTopicsLength))
	}
	if len(post.Qualification) > MaxTitleLength {
		return nil, apperror.ValidationFailed("qualification",
			fmt.Sprintf("qualification must be %d characters or less", MaxTitleLength))
	}
	if len(in.PDF) == 0 {
		return nil, apperror.ValidationFailed("pdf-file", "no file uploaded")
	}
	if len(in.PDF) > MaxPDFBytes {
		return nil, apperror.ValidationFailed("pdf-file",
			fmt.Sprintf("PDF must be %d MB or smaller", MaxPDFBytes>>20))
	}
	if !bytes.HasPrefix(in.PDF, pdfMagic) {
		return nil, apperror.ValidationFailed("pdf-file", "file must be a PDF")
	}

	post.Filename = xid.New().String() + ".pdf"
	if err := s.pdfs.Save(ctx, post.Filename, in.PDF); err != nil {
		return nil, fmt.Errorf("service/catalog: saving PDF: %w", err)
	}

	if err := s.posts.CreatePost(ctx, post); err != nil {
		removeFile(ctx, s.logger, s.pdfs, post.Filename)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("failed to create post",
			slog.String("authorID", post.AuthorID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/catalog: creating post: %w", err)
	}

	s.logger.Info("post created",
		slog.String("postID", post.ID),
		slog.String("authorID", post.AuthorID),
		slog.String("subject", post.Subject),
	)
	return post, nil
}

func validateTitle(field, v string) error {
	if v == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	if len(v) > MaxTitleLength {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be %d characters or less", field, MaxTitleLength))
	}
	return nil
}

// GetPost returns apperror.ErrNotFound for unknown ids.
func (s *CatalogService) GetPost(ctx context.Context, id string) (*model.Post, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("postId", "post ID is required")
	}
	return s.posts.GetPostByID(ctx, id)
}

// ToggleLike likes the post for userID, or unlikes it if already liked.
// It returns whether the post is liked afterwards.
func (s *CatalogService) ToggleLike(ctx context.Context, userID, postID string) (bool, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return false, apperror.ValidationFailed("postId", "post ID is required")
	}

	liked, err := s.posts.ToggleLike(ctx, postID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("service/catalog: toggling like: %w", err)
	}
	return liked, nil
}

// DeletePost removes a post owned by userID and returns the owner with the
// post gone from their list.
//
// The post and its likes go in one transaction. The PDF is removed after
// the commit: a crash in between leaves an orphaned file, never a post
// whose file is missing.
func (s *CatalogService) DeletePost(ctx context.Context, userID, postID string) (*model.User, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, apperror.ValidationFailed("postId", "post ID is required")
	}

	post, err := s.posts.GetPostByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != userID {
		return nil, apperror.Forbidden("only the author can delete this post")
	}

	if err := s.posts.DeletePost(ctx, postID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/catalog: deleting post: %w", err)
	}
	removeFile(ctx, s.logger, s.pdfs, post.Filename)

	s.logger.Info("post deleted",
		slog.String("postID", postID),
		slog.String("authorID", userID),
	)
	return s.users.GetUserByID(ctx, userID)
}

func (s *CatalogService) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	subjects, err := s.catalog.ListSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing subjects: %w", err)
	}
	return subjects, nil
}

// SearchChapters returns chapters whose title starts with prefix, ignoring
// case. An empty prefix matches nothing.
func (s *CatalogService) SearchChapters(ctx context.Context, prefix string) ([]model.Chapter, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []model.Chapter{}, nil
	}
	chapters, err := s.catalog.SearchChapters(ctx, prefix, ChapterSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: searching chapters: %w", err)
	}
	return chapters, nil
}

func (s *CatalogService) PostsBySubject(ctx context.Context, subject string, limit, offset int) ([]model.Post, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, apperror.ValidationFailed("option", "subject is required")
	}
	posts, err := s.posts.ListPostsBySubject(ctx, subject, listOptions(limit, offset))
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing posts of subject: %w", err)
	}
	return posts, nil
}

func (s *CatalogService) PostsByChapter(ctx context.Context, chapter string, limit, offset int) ([]model.Post, error) {
	chapter = strings.TrimSpace(chapter)
	if chapter == "" {
		return nil, apperror.ValidationFailed("chapter", "chapter is required")
	}
	posts, err := s.posts.ListPostsByChapter(ctx, chapter, listOptions(limit, offset))
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing posts of chapter: %w", err)
	}
	return posts, nil
}

// listOptions clamps paging to sane values so callers can't request
// unbounded pages.
func listOptions(limit, offset int) repository.ListOptions {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return repository.ListOptions{Limit: limit, Offset: offset}
}
