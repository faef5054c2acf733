package callbacks

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/gateway"
	"github.com/chris/classifieds-wallet/pkg/mapping"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/topup"
)

// maxPayloadBytes caps callback bodies.
const maxPayloadBytes = 64 << 10

// SignatureHeaders names the header each gateway signs its callbacks in.
var SignatureHeaders = map[models.TopUpMethod]string{
	models.CARD_GATEWAY: "Stripe-Signature",
	models.CASH_NETWORK: "X-Cash-Signature",
}

// CallbacksHandler receives payment gateway callbacks.
type CallbacksHandler struct {
	Workflow *topup.Workflow
}

// NewCallbacksHandler creates a new CallbacksHandler.
func NewCallbacksHandler(wf *topup.Workflow) *CallbacksHandler {
	return &CallbacksHandler{Workflow: wf}
}

// HandleCallback verifies and applies a callback. Well-signed events that carry no
// top-up outcome are acknowledged so the gateway stops retrying them.
func (h *CallbacksHandler) HandleCallback(w http.ResponseWriter, r *http.Request, method string) {
	m := models.TopUpMethod(method)
	header, ok := SignatureHeaders[m]
	if !ok {
		api.WriteError(w, r, fmt.Errorf("%w: no callbacks for %q", topup.ErrUnsupportedMethod, method))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		api.WriteError(w, r, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err))
		return
	}

	req, err := h.Workflow.HandleCallback(r.Context(), m, payload, r.Header.Get(header))
	if errors.Is(err, gateway.ErrUnsupportedEvent) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTopUp(req))
}
