package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// Upload is an attachment being added to a transaction.
type Upload struct {
	TransactionID string
	FileName      string
	ContentType   string
	Body          io.Reader
}

// Attach stores an upload and records it against its transaction.
func (s *Service) Attach(ctx context.Context, up Upload) (*store.Attachment, error) {
	if s.blobs == nil {
		return nil, errors.New("attachment storage is not configured")
	}
	if err := validate.Required("transaction_id", up.TransactionID); err != nil {
		return nil, err
	}
	name := filepath.Base(strings.TrimSpace(up.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, validate.Errorf("file", "a file name is required")
	}
	ctype, err := s.contentType(up.ContentType, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.Transaction(ctx, up.TransactionID); err != nil {
		return nil, err
	}

	key := uuid.NewString()
	h := sha256.New()
	n, err := s.blobs.Put(ctx, key, io.TeeReader(io.LimitReader(up.Body, s.maxBytes+1), h))
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	if n > s.maxBytes || n == 0 {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn("attachment cleanup failed", "blob_key", key, "err", derr)
		}
		if n == 0 {
			return nil, validate.Errorf("file", "file is empty")
		}
		return nil, validate.Errorf("file", "file exceeds %d bytes", s.maxBytes)
	}

	a := store.Attachment{
		ID:            s.st.Attachments.NextID(),
		TransactionID: up.TransactionID,
		FileName:      name,
		ContentType:   ctype,
		Size:          n,
		SHA256:        hex.EncodeToString(h.Sum(nil)),
		BlobKey:       key,
		UploadedAt:    s.now(),
	}
	if err := s.st.Attachments.Put(ctx, a.ID, a); err != nil {
		_ = s.blobs.Delete(ctx, key)
		return nil, fmt.Errorf("save attachment: %w", err)
	}
	s.logger.Info("attachment uploaded", "attachment_id", a.ID, "transaction_id", a.TransactionID, "size", a.Size)
	return &a, nil
}

// contentType takes the declared type, falling back to the file extension,
// and checks it against the allow-list.
func (s *Service) contentType(declared, name string) (string, error) {
	ct := declared
	if ct == "" || ct == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			ct = byExt
		}
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", validate.Errorf("file", "unrecognised content type %q", ct)
	}
	if len(s.allowed) > 0 && !s.allowed[mt] {
		return "", validate.Errorf("file", "content type %s is not allowed", mt)
	}
	return mt, nil
}

// Attachments lists a transaction's attachments, oldest first.
func (s *Service) Attachments(ctx context.Context, transactionID string) ([]store.Attachment, error) {
	out, err := s.st.Attachments.Match(ctx, func(_ string, a store.Attachment) bool {
		return a.TransactionID == transactionID
	})
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.Attachment) int { return a.UploadedAt.Compare(b.UploadedAt) })
	return out, nil
}

// Attachment returns one attachment record.
func (s *Service) Attachment(ctx context.Context, id string) (*store.Attachment, error) {
	a, err := s.st.Attachments.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("attachment %s: %w", id, err)
	}
	return &a, nil
}

// OpenAttachment returns the record and a reader for its bytes.
func (s *Service) OpenAttachment(ctx context.Context, id string) (*store.Attachment, io.ReadCloser, error) {
	a, err := s.Attachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.blobs == nil {
		return nil, nil, errors.New("attachment storage is not configured")
	}
	rc, err := s.blobs.Open(ctx, a.BlobKey)
	if err != nil {
		return nil, nil, err
	}
	return a, rc, nil
}

// DeleteAttachment removes the blob and then the record.
func (s *Service) DeleteAttachment(ctx context.Context, id string) error {
	a, err := s.Attachment(ctx, id)
	if err != nil {
		return err
	}
	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, a.BlobKey); err != nil {
			return fmt.Errorf("delete attachment blob: %w", err)
		}
	}
	if err := s.st.Attachments.Remove(ctx, id); err != nil {
		return fmt.Errorf("attachment %s: %w", id, err)
	}
	return nil
}
