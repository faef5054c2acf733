package topup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/models"
)

var receiptTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Upload is a receipt file sent by the requester.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadReceipt stores the file in the blob store and attaches its URL to the request.
// The upload is bounded by UpstreamTimeout.
func (w *Workflow) UploadReceipt(ctx context.Context, requestID, requesterID string, up Upload) (*models.TopUpRequest, error) {
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(up.ContentType, ";")[0]))
	ext, ok := receiptTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: content type %q not accepted", ErrInvalidReceipt, up.ContentType)
	}
	if up.Size <= 0 || up.Size > w.MaxReceiptBytes {
		return nil, fmt.Errorf("%w: size %d outside 1..%d bytes", ErrInvalidReceipt, up.Size, w.MaxReceiptBytes)
	}

	req, err := w.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterId != requesterID {
		return nil, ErrNotRequester
	}
	if req.Status != models.TOPUP_PENDING {
		return nil, fmt.Errorf("%w: request %s is %s", ledger.ErrInvalidTransition, req.Id, req.Status)
	}

	key := path.Join("topups", req.AccountId, req.Id, fmt.Sprintf("%d%s", w.Clock.Now().UnixNano(), ext))

	uploadCtx, cancel := context.WithTimeout(ctx, w.UpstreamTimeout)
	defer cancel()
	url, err := w.Receipts.Put(uploadCtx, key, contentType, io.LimitReader(up.Body, up.Size), up.Size)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(uploadCtx.Err(), context.DeadlineExceeded) {
			w.Metrics.UpstreamTimeout("receipt_upload")
			return nil, fmt.Errorf("%w: receipt upload for %s", ledger.ErrUpstreamTimeout, req.Id)
		}
		return nil, fmt.Errorf("failed to store receipt: %w", err)
	}

	w.Logger.Info("receipt uploaded", "request_id", req.Id, "key", key, "size", up.Size, "original_name", up.Filename)
	return w.AttachReceipt(ctx, requestID, requesterID, url)
}
