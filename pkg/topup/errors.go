package topup

import (
	"errors"

	"github.com/chris/classifieds-wallet/pkg/storage"
)

// ErrReceiptRequired is returned when approving a bank or cash top-up without a receipt.
var ErrReceiptRequired = errors.New("receipt required before approval")

// ErrUnknownRequest is returned when a top-up request does not exist.
var ErrUnknownRequest = storage.ErrTopUpNotFound

// ErrNotRequester is returned when someone other than the requester tries to act on a request.
var ErrNotRequester = errors.New("only the requester may do this")

// ErrAmountMismatch is returned when a gateway reports a different amount than requested.
var ErrAmountMismatch = errors.New("gateway amount does not match request")

// ErrUnsupportedMethod is returned for unknown methods or methods without a callback verifier.
var ErrUnsupportedMethod = errors.New("unsupported top-up method")

// ErrInvalidReceipt is returned for receipt uploads with a bad type or size.
var ErrInvalidReceipt = errors.New("invalid receipt file")

// ErrGatewayManaged is returned when a reviewer tries to approve a card top-up. Card
// payments settle only through the verified gateway callback.
var ErrGatewayManaged = errors.New("top-up resolves through its payment gateway")
