package web

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"github.com/vadiminshakov/pandamarket/internal/services/custody"
)

type listRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      string `json:"price"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type buyRequest struct {
	Payment string `json:"payment"`
}

type listingResponse struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Listed     bool   `json:"listed"`
	Seller     string `json:"seller,omitempty"`
	Price      string `json:"price"`
}

func newListingResponse(key domain.AssetKey, l domain.Listing) listingResponse {
	resp := listingResponse{
		Collection: key.Collection.Hex(),
		TokenID:    key.TokenID.Dec(),
		Listed:     l.Listed(),
		Price:      l.Price.Dec(),
	}
	if resp.Listed {
		resp.Seller = l.Seller.Hex()
	}
	return resp
}

type balanceResponse struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type feeResponse struct {
	Price  string `json:"price"`
	FeeBps uint64 `json:"fee_bps"`
	Fee    string `json:"fee"`
}

type royaltyResponse struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      string `json:"price"`
	Receiver   string `json:"receiver"`
	Royalty    string `json:"royalty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps marketplace errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotListed), errors.Is(err, custody.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrNotOperator),
		errors.Is(err, domain.ErrNotApproved),
		errors.Is(err, custody.ErrTransferForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyListed),
		errors.Is(err, domain.ErrNothingToWithdraw),
		errors.Is(err, domain.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPriceMustBeNonZero), errors.Is(err, domain.ErrFeeExceedsPrice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrJournalFaulted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
