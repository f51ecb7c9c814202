package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/handler"
	"github.com/sakif/notesfy/internal/model"
)

var pdfBytes = []byte("%PDF-1.7\n%%EOF\n")

func TestCatalogHandler_HandleUploadPDF(t *testing.T) {
	logger := newTestLogger()

	t.Run("passes form fields and file", func(t *testing.T) {
		mock := &MockCatalog{ReturnPost: &model.Post{ID: "p1", Chapter: "Calculus"}}
		h := handler.NewCatalogHandler(mock, logger)

		req := multipartRequest(t, "/uploadPdf", map[string]string{
			"title":         "Calculus",
			"subject":       "Maths",
			"topics":        "limits",
			"qualification": "BSc",
			"userId":        "ignored",
		}, "pdf-file", pdfBytes)
		rr := httptest.NewRecorder()
		h.HandleUploadPDF(rr, asUser(req, "u1"))

		assert.Equal(t, http.StatusCreated, rr.Code)
		in := mock.CapturedInput
		assert.Equal(t, "u1", in.AuthorID)
		assert.Equal(t, "Calculus", in.Chapter)
		assert.Equal(t, "Maths", in.Subject)
		assert.Equal(t, "limits", in.Topics)
		assert.Equal(t, "BSc", in.Qualification)
		assert.Equal(t, pdfBytes, in.PDF)
	})

	t.Run("not a multipart body", func(t *testing.T) {
		mock := &MockCatalog{}
		h := handler.NewCatalogHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleUploadPDF(rr, asUser(jsonRequest(http.MethodPost, "/uploadPdf", `{"title":"x"}`), "u1"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Nil(t, mock.CapturedInput.PDF)
	})

	t.Run("service validation", func(t *testing.T) {
		mock := &MockCatalog{ReturnErr: apperror.ValidationFailed("pdf-file", "file must be a PDF")}
		h := handler.NewCatalogHandler(mock, logger)

		req := multipartRequest(t, "/uploadPdf", map[string]string{"title": "x", "subject": "y"}, "pdf-file", []byte("GIF89a"))
		rr := httptest.NewRecorder()
		h.HandleUploadPDF(rr, asUser(req, "u1"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "pdf-file", decodeError(t, rr).Field)
	})
}

func TestCatalogHandler_HandleLike(t *testing.T) {
	mock := &MockCatalog{ReturnLiked: true}
	h := handler.NewCatalogHandler(mock, newTestLogger())

	rr := httptest.NewRecorder()
	h.HandleLike(rr, asUser(jsonRequest(http.MethodPost, "/likePdf", `{"postId":"p1","userId":"spoofed"}`), "u1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1", mock.CapturedUserID)
	assert.Equal(t, "p1", mock.CapturedPostID)

	var res map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, true, res["liked"])

	mock.ReturnErr = apperror.NotFound("post", "p9")
	rr = httptest.NewRecorder()
	h.HandleLike(rr, asUser(jsonRequest(http.MethodPost, "/likePdf", `{"postId":"p9"}`), "u1"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCatalogHandler_HandleDelete(t *testing.T) {
	logger := newTestLogger()

	t.Run("returns the updated owner", func(t *testing.T) {
		mock := &MockCatalog{ReturnUser: &model.User{ID: "u1", Posts: []string{"p2"}}}
		h := handler.NewCatalogHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleDelete(rr, asUser(jsonRequest(http.MethodPost, "/deletePdf", `{"postId":"p1"}`), "u1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		var res struct {
			User model.User `json:"user"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, []string{"p2"}, res.User.Posts)
	})

	t.Run("not the author", func(t *testing.T) {
		mock := &MockCatalog{ReturnErr: apperror.Forbidden("only the author can delete this post")}
		h := handler.NewCatalogHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleDelete(rr, asUser(jsonRequest(http.MethodPost, "/deletePdf", `{"postId":"p1"}`), "u2"))

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestCatalogHandler_Browse(t *testing.T) {
	mock := &MockCatalog{ReturnPosts: []model.Post{{ID: "p1"}}}
	h := handler.NewCatalogHandler(mock, newTestLogger())

	router := chi.NewRouter()
	router.Get("/getSubjects", h.HandleSubjects)
	router.Get("/getChapters/", h.HandleChapters)
	router.Get("/getChapters/{chapter}", h.HandleChapters)
	router.Get("/getSubjectPdfs", h.HandleSubjectPosts)
	router.Get("/getChapterPdfs", h.HandleChapterPosts)
	router.Get("/pdfDetails/{postId}", h.HandlePostDetails)

	serve := func(target string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		return rr
	}

	t.Run("subjects", func(t *testing.T) {
		rr := serve("/getSubjects")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[{"id":"s1","title":"Maths"}]`, rr.Body.String())
	})

	t.Run("empty chapter search", func(t *testing.T) {
		rr := serve("/getChapters/")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
		assert.Equal(t, "", mock.CapturedKey)
	})

	t.Run("chapter prefix", func(t *testing.T) {
		rr := serve("/getChapters/calc")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "calc", mock.CapturedKey)
	})

	t.Run("subject posts with paging", func(t *testing.T) {
		rr := serve("/getSubjectPdfs?option=Maths&limit=10&offset=20")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Maths", mock.CapturedKey)
		assert.Equal(t, 10, mock.CapturedLimit)
		assert.Equal(t, 20, mock.CapturedOffset)
	})

	t.Run("chapter posts", func(t *testing.T) {
		rr := serve("/getChapterPdfs?chapter=Calculus")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Calculus", mock.CapturedKey)
	})

	t.Run("bad paging", func(t *testing.T) {
		rr := serve("/getSubjectPdfs?option=Maths&limit=-1")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "limit", decodeError(t, rr).Field)
	})

	t.Run("post details", func(t *testing.T) {
		mock.ReturnPost = &model.Post{ID: "p7"}
		rr := serve("/pdfDetails/p7")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "p7", mock.CapturedPostID)
	})
}
