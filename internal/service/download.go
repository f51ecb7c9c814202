package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/money"
	"github.com/sakif/notesfy/internal/observability"
	"github.com/sakif/notesfy/internal/repository"
	"github.com/sakif/notesfy/internal/storage"
)

// SignatureVerifier checks a payment proof. gateway.Verifier implements it.
type SignatureVerifier interface {
	Verify(orderID, paymentID, signature string) error
}

// DownloadService runs the paid download flow:
//
//	verify payment → post → owner → file → credit owner → stream
//
// Every step before the credit only reads, so a failure anywhere up to
// and including the file lookup leaves the ledger untouched. The credit
// itself is recorded against the payment id, which makes it exactly-once
// per payment no matter how often the client retries.
type DownloadService struct {
	verifier SignatureVerifier
	posts    repository.PostRepository
	users    repository.UserRepository
	ledger   repository.LedgerRepository
	pdfs     storage.FileStore
	reward   money.Amount
	logger   *slog.Logger
}

func NewDownloadService(
	verifier SignatureVerifier,
	posts repository.PostRepository,
	users repository.UserRepository,
	ledger repository.LedgerRepository,
	pdfs storage.FileStore,
	reward money.Amount,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		verifier: verifier,
		posts:    posts,
		users:    users,
		ledger:   ledger,
		pdfs:     pdfs,
		reward:   reward,
		logger:   logger,
	}
}

// PaymentProof is what the checkout returns to the client after a
// successful payment.
type PaymentProof struct {
	OrderID   string
	PaymentID string
	Signature string
}

// DownloadResult carries the open PDF. The caller must close File.
type DownloadResult struct {
	Post     *model.Post
	Filename string // attachment name derived from the chapter
	File     io.ReadCloser
	Credited bool // false when the payment was already used for this post
}

// Download verifies proof, credits the post's author and returns the file.
//
// Credit happens here, before the first byte is sent: a client that
// disconnects mid-stream has still paid, and the author keeps the reward.
// Replaying a proof for the same post returns the file again without a
// second credit; replaying it for a different post is a verification
// failure.
func (s *DownloadService) Download(ctx context.Context, postID, payerID string, proof PaymentProof) (*DownloadResult, error) {
	proof.OrderID = strings.TrimSpace(proof.OrderID)
	proof.PaymentID = strings.TrimSpace(proof.PaymentID)
	proof.Signature = strings.TrimSpace(proof.Signature)

	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, apperror.ValidationFailed("id", "post ID is required")
	}

	if err := s.verifier.Verify(proof.OrderID, proof.PaymentID, proof.Signature); err != nil {
		observability.DownloadsTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("payment verification failed",
			slog.String("postID", postID),
			slog.String("orderID", proof.OrderID),
			slog.String("paymentID", proof.PaymentID),
		)
		return nil, err
	}

	post, err := s.posts.GetPostByID(ctx, postID)
	if err != nil {
		return nil, s.failed("loading post", err)
	}

	owner, err := s.users.GetUserByID(ctx, post.AuthorID)
	if err != nil {
		return nil, s.failed("loading post owner", err)
	}

	file, err := s.pdfs.Open(ctx, post.Filename)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("post file missing",
				slog.String("postID", post.ID),
				slog.String("file", post.Filename),
			)
			err = apperror.NotFound("file", post.ID)
		}
		return nil, s.failed("opening post file", err)
	}

	credited, err := s.ledger.RecordDownload(ctx, &model.Download{
		PaymentID: proof.PaymentID,
		OrderID:   proof.OrderID,
		PostID:    post.ID,
		OwnerID:   owner.ID,
		PayerID:   payerID,
		Reward:    s.reward,
	})
	if err != nil {
		file.Close()
		if errors.Is(err, apperror.ErrPaymentVerification) {
			observability.DownloadsTotal.WithLabelValues("rejected").Inc()
			s.logger.Warn("payment replayed for another post",
				slog.String("postID", post.ID),
				slog.String("paymentID", proof.PaymentID),
			)
			return nil, err
		}
		return nil, s.failed("recording download", err)
	}

	if credited {
		observability.DownloadsTotal.WithLabelValues("credited").Inc()
		observability.LedgerCreditPaise.Add(float64(s.reward.Paise()))
		s.logger.Info("download credited",
			slog.String("postID", post.ID),
			slog.String("ownerID", owner.ID),
			slog.String("paymentID", proof.PaymentID),
			slog.String("reward", s.reward.String()),
		)
	} else {
		observability.DownloadsTotal.WithLabelValues("replayed").Inc()
		s.logger.Info("download replayed",
			slog.String("postID", post.ID),
			slog.String("paymentID", proof.PaymentID),
		)
	}

	return &DownloadResult{
		Post:     post,
		Filename: AttachmentName(post.Chapter),
		File:     file,
		Credited: credited,
	}, nil
}

func (s *DownloadService) failed(step string, err error) error {
	observability.DownloadsTotal.WithLabelValues("failed").Inc()
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.Error("download failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("service/download: %s: %w", step, err)
}

// AttachmentName turns a chapter title into a safe download file name.
// Anything but ASCII letters, digits, space, dot, dash and underscore
// becomes an underscore, so the result is safe inside a quoted
// Content-Disposition filename.
func AttachmentName(chapter string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case r == ' ', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(chapter))
	name = strings.Trim(name, ". ")
	if name == "" {
		name = "notes"
	}
	return name + ".pdf"
}
