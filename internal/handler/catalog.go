package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/service"
)

// CatalogService is what CatalogHandler needs from the service layer.
type CatalogService interface {
	CreatePost(ctx context.Context, in service.CreatePostInput) (*model.Post, error)
	GetPost(ctx context.Context, id string) (*model.Post, error)
	ToggleLike(ctx context.Context, userID, postID string) (bool, error)
	DeletePost(ctx context.Context, userID, postID string) (*model.User, error)
	ListSubjects(ctx context.Context) ([]model.Subject, error)
	SearchChapters(ctx context.Context, prefix string) ([]model.Chapter, error)
	PostsBySubject(ctx context.Context, subject string, limit, offset int) ([]model.Post, error)
	PostsByChapter(ctx context.Context, chapter string, limit, offset int) ([]model.Post, error)
}

// CatalogHandler serves uploads, likes, deletion and browsing of notes.
type CatalogHandler struct {
	catalog CatalogService
	logger  *slog.Logger
}

func NewCatalogHandler(catalog CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

// HandleUploadPDF publishes a PDF for the authenticated user.
//
// HTTP: POST /uploadPdf
// Auth: Required
// REQUEST: multipart with file "pdf-file" and fields title, subject,
// topics, qualification.
// RESPONSE: 201 {"message": "uploaded", "post": {...}}
func (h *CatalogHandler) HandleUploadPDF(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	data, err := readUpload(w, r, "pdf-file", service.MaxPDFBytes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	post, err := h.catalog.CreatePost(r.Context(), service.CreatePostInput{
		AuthorID:      userID,
		Chapter:       r.PostFormValue("title"),
		Subject:       r.PostFormValue("subject"),
		Topics:        r.PostFormValue("topics"),
		Qualification: r.PostFormValue("qualification"),
		PDF:           data,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"message": "uploaded", "post": post})
}

// HandlePostDetails returns one post.
//
// HTTP: GET /pdfDetails/{postId}
func (h *CatalogHandler) HandlePostDetails(w http.ResponseWriter, r *http.Request) {
	post, err := h.catalog.GetPost(r.Context(), chi.URLParam(r, "postId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// HandleLike toggles the authenticated user's like on a post.
//
// HTTP: POST /likePdf
// Auth: Required
// REQUEST BODY: {"postId": "..."}
func (h *CatalogHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	liked, err := h.catalog.ToggleLike(r.Context(), userID, fields["postId"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Like status updated successfully",
		"liked":   liked,
	})
}

// HandleDelete removes one of the authenticated user's posts.
//
// HTTP: POST /deletePdf
// Auth: Required
// REQUEST BODY: {"postId": "..."}
// RESPONSE: {"user": {...}} with the post gone from user.posts
func (h *CatalogHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.catalog.DeletePost(r.Context(), userID, fields["postId"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// HandleSubjects lists every subject title.
//
// HTTP: GET /getSubjects
func (h *CatalogHandler) HandleSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.catalog.ListSubjects(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

// HandleChapters suggests chapter titles for a search box.
//
// HTTP: GET /getChapters/{chapter}, and GET /getChapters/ which always
// returns [] (the box was cleared).
func (h *CatalogHandler) HandleChapters(w http.ResponseWriter, r *http.Request) {
	chapters, err := h.catalog.SearchChapters(r.Context(), chi.URLParam(r, "chapter"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, chapters)
}

// HandleSubjectPosts lists posts in a subject.
//
// HTTP: GET /getSubjectPdfs?option=<subject>[&limit=&offset=]
func (h *CatalogHandler) HandleSubjectPosts(w http.ResponseWriter, r *http.Request) {
	h.listPosts(w, r, "option", h.catalog.PostsBySubject)
}

// HandleChapterPosts lists posts for an exact chapter title.
//
// HTTP: GET /getChapterPdfs?chapter=<title>[&limit=&offset=]
func (h *CatalogHandler) HandleChapterPosts(w http.ResponseWriter, r *http.Request) {
	h.listPosts(w, r, "chapter", h.catalog.PostsByChapter)
}

type listFunc func(ctx context.Context, key string, limit, offset int) ([]model.Post, error)

func (h *CatalogHandler) listPosts(w http.ResponseWriter, r *http.Request, param string, list listFunc) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	posts, err := list(r.Context(), r.URL.Query().Get(param), limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}
