package topups_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/blobstore"
	"github.com/chris/classifieds-wallet/pkg/handlers/topups"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/lock"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage/memory"
	"github.com/chris/classifieds-wallet/pkg/topup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) (*topups.TopUpsHandler, *blobstore.Memory) {
	t.Helper()
	store := memory.New()
	engine := ledger.New(store, lock.NewKeyedMutex(), ledger.Config{DefaultCurrency: "USD"})
	receipts := blobstore.NewMemory()
	return topups.NewTopUpsHandler(topup.New(store, engine, receipts)), receipts
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func create(t *testing.T, h *topups.TopUpsHandler, accountID string, body api.NewTopUp) api.TopUp {
	t.Helper()
	rr := httptest.NewRecorder()
	h.CreateTopUp(rr, jsonRequest(t, http.MethodPost, "/v1/topups", body), accountID)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var out api.TopUp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func amount(v int64) *int64 { return &v }

func TestCreateTopUp(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		h, _ := newHandler(t)
		out := create(t, h, "user-a", api.NewTopUp{Method: "cardGateway", Amount: amount(2500)})

		assert.Equal(t, "pending", out.Status)
		assert.Equal(t, int64(2500), out.Amount.Amount)
		assert.Equal(t, "25.00", out.Amount.Display)
		assert.Equal(t, "user-a", out.RequesterId)
	})

	t.Run("Decimal Amount", func(t *testing.T) {
		h, _ := newHandler(t)
		out := create(t, h, "user-a", api.NewTopUp{Method: "bankTransfer", AmountDecimal: "12.34"})
		assert.Equal(t, int64(1234), out.Amount.Amount)
	})

	t.Run("Too Many Decimals", func(t *testing.T) {
		h, _ := newHandler(t)
		rr := httptest.NewRecorder()
		h.CreateTopUp(rr, jsonRequest(t, http.MethodPost, "/v1/topups", api.NewTopUp{Method: "bankTransfer", AmountDecimal: "1.234"}), "user-a")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid_amount")
	})

	t.Run("Both Amount Forms", func(t *testing.T) {
		h, _ := newHandler(t)
		rr := httptest.NewRecorder()
		h.CreateTopUp(rr, jsonRequest(t, http.MethodPost, "/v1/topups", api.NewTopUp{Method: "bankTransfer", Amount: amount(1), AmountDecimal: "1"}), "user-a")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Unsupported Method", func(t *testing.T) {
		h, _ := newHandler(t)
		rr := httptest.NewRecorder()
		h.CreateTopUp(rr, jsonRequest(t, http.MethodPost, "/v1/topups", api.NewTopUp{Method: "barter", Amount: amount(100)}), "user-a")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "unsupported_method")
	})

	t.Run("Invalid Body", func(t *testing.T) {
		h, _ := newHandler(t)
		rr := httptest.NewRecorder()
		h.CreateTopUp(rr, httptest.NewRequest(http.MethodPost, "/v1/topups", strings.NewReader("{")), "user-a")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestListAndGetTopUps(t *testing.T) {
	h, _ := newHandler(t)
	mine := create(t, h, "user-a", api.NewTopUp{Method: "cardGateway", Amount: amount(100)})
	theirs := create(t, h, "user-b", api.NewTopUp{Method: "cardGateway", Amount: amount(200)})

	t.Run("List Only Own", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ListTopUps(rr, httptest.NewRequest(http.MethodGet, "/v1/topups", nil), "user-a", "")
		assert.Equal(t, http.StatusOK, rr.Code)

		var out []api.TopUp
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		require.Len(t, out, 1)
		assert.Equal(t, mine.Id, out[0].Id)
	})

	t.Run("Get Own", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.GetTopUp(rr, httptest.NewRequest(http.MethodGet, "/v1/topups/"+mine.Id, nil), "user-a", mine.Id)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Other Account Is Hidden", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.GetTopUp(rr, httptest.NewRequest(http.MethodGet, "/v1/topups/"+theirs.Id, nil), "user-a", theirs.Id)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Bind Status", func(t *testing.T) {
		status, err := topups.BindStatus(httptest.NewRequest(http.MethodGet, "/v1/topups?status=approved", nil))
		require.NoError(t, err)
		assert.Equal(t, models.TOPUP_APPROVED, status)

		_, err = topups.BindStatus(httptest.NewRequest(http.MethodGet, "/v1/topups?status=lost", nil))
		assert.ErrorIs(t, err, api.ErrBadRequest)
	})
}

func TestCancelTopUp(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		h, _ := newHandler(t)
		req := create(t, h, "user-a", api.NewTopUp{Method: "cardGateway", Amount: amount(100)})

		rr := httptest.NewRecorder()
		h.CancelTopUp(rr, httptest.NewRequest(http.MethodPost, "/", nil), "user-a", req.Id)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"cancelled"`)

		rr = httptest.NewRecorder()
		h.CancelTopUp(rr, httptest.NewRequest(http.MethodPost, "/", nil), "user-a", req.Id)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Not Requester", func(t *testing.T) {
		h, _ := newHandler(t)
		req := create(t, h, "user-a", api.NewTopUp{Method: "cardGateway", Amount: amount(100)})

		rr := httptest.NewRecorder()
		h.CancelTopUp(rr, httptest.NewRequest(http.MethodPost, "/", nil), "user-b", req.Id)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestAttachReceipt(t *testing.T) {
	t.Run("URL", func(t *testing.T) {
		h, _ := newHandler(t)
		req := create(t, h, "user-a", api.NewTopUp{Method: "bankTransfer", Amount: amount(100)})

		rr := httptest.NewRecorder()
		h.AttachReceipt(rr, jsonRequest(t, http.MethodPost, "/", api.Receipt{ReceiptUrl: "https://bank.example/slip.pdf"}), "user-a", req.Id)
		assert.Equal(t, http.StatusOK, rr.Code)

		var out api.TopUp
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		assert.Equal(t, "https://bank.example/slip.pdf", out.ReceiptUrl)
	})

	t.Run("Multipart Upload", func(t *testing.T) {
		h, receipts := newHandler(t)
		req := create(t, h, "user-a", api.NewTopUp{Method: "bankTransfer", Amount: amount(100)})

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="receipt"; filename="slip.png"`)
		header.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte("\x89PNG fake image"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		httpReq := httptest.NewRequest(http.MethodPost, "/", &body)
		httpReq.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		h.AttachReceipt(rr, httpReq, "user-a", req.Id)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var out api.TopUp
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		assert.Contains(t, out.ReceiptUrl, ".png")

		current, err := h.Workflow.Get(context.Background(), req.Id)
		require.NoError(t, err)
		assert.Equal(t, out.ReceiptUrl, current.ReceiptUrl)

		stored, ok := receipts.Get(strings.TrimPrefix(out.ReceiptUrl, "memory://"))
		require.True(t, ok)
		assert.Equal(t, []byte("\x89PNG fake image"), stored)
	})

	t.Run("Missing URL", func(t *testing.T) {
		h, _ := newHandler(t)
		req := create(t, h, "user-a", api.NewTopUp{Method: "bankTransfer", Amount: amount(100)})

		rr := httptest.NewRecorder()
		h.AttachReceipt(rr, jsonRequest(t, http.MethodPost, "/", api.Receipt{}), "user-a", req.Id)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "missing_receipt")
	})
}
