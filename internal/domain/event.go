package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// EventType kind of a marketplace domain event.
type EventType string

const (
	EventListed    EventType = "listed"
	EventBought    EventType = "bought"
	EventCancelled EventType = "cancelled"
	EventWithdrawn EventType = "withdrawn"
)

// IsValid checks if the EventType value is known.
func (t EventType) IsValid() bool {
	switch t {
	case EventListed, EventBought, EventCancelled, EventWithdrawn:
		return true
	}
	return false
}

// Event is a committed state change of the marketplace.
// Events are journaled and replayed, so a Bought event carries the whole split.
type Event struct {
	Type     EventType
	Sequence uint64
	ID       string
	Time     time.Time

	// Asset is set for listed, bought and cancelled events.
	Asset AssetKey
	// Seller for listed and bought events.
	Seller common.Address
	// Buyer for bought events.
	Buyer common.Address
	// Price listing price for listed events, sale price for bought events.
	Price uint256.Int

	RoyaltyReceiver common.Address
	Royalty         uint256.Int
	PlatformFee     uint256.Int
	SellerShare     uint256.Int
	// Excess part of the payment above price, credited back to the buyer.
	Excess uint256.Int

	// Account and Amount for withdrawn events.
	Account common.Address
	Amount  uint256.Int
	// Treasury marks operator withdrawals of platform fees.
	Treasury bool
}

// String returns a human-readable string representation.
func (e Event) String() string {
	switch e.Type {
	case EventListed:
		return fmt.Sprintf("#%d listed %s seller: %s price: %s", e.Sequence, e.Asset, e.Seller.Hex(), e.Price.Dec())
	case EventBought:
		return fmt.Sprintf("#%d bought %s buyer: %s price: %s", e.Sequence, e.Asset, e.Buyer.Hex(), e.Price.Dec())
	case EventCancelled:
		return fmt.Sprintf("#%d cancelled %s", e.Sequence, e.Asset)
	case EventWithdrawn:
		return fmt.Sprintf("#%d withdrawn %s amount: %s treasury: %t", e.Sequence, e.Account.Hex(), e.Amount.Dec(), e.Treasury)
	default:
		return fmt.Sprintf("#%d unknown event %q", e.Sequence, e.Type)
	}
}

// eventJSON is the wire form; amounts and token ids are decimal strings.
type eventJSON struct {
	Type     EventType `json:"type"`
	Sequence uint64    `json:"seq"`
	ID       string    `json:"id"`
	Time     time.Time `json:"ts"`

	Collection *common.Address `json:"collection,omitempty"`
	TokenID    string          `json:"token_id,omitempty"`
	Seller     *common.Address `json:"seller,omitempty"`
	Buyer      *common.Address `json:"buyer,omitempty"`
	Price      string          `json:"price,omitempty"`

	RoyaltyReceiver *common.Address `json:"royalty_receiver,omitempty"`
	Royalty         string          `json:"royalty,omitempty"`
	PlatformFee     string          `json:"platform_fee,omitempty"`
	SellerShare     string          `json:"seller_share,omitempty"`
	Excess          string          `json:"excess,omitempty"`

	Account  *common.Address `json:"account,omitempty"`
	Amount   string          `json:"amount,omitempty"`
	Treasury bool            `json:"treasury,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	w := eventJSON{
		Type:     e.Type,
		Sequence: e.Sequence,
		ID:       e.ID,
		Time:     e.Time,
	}

	switch e.Type {
	case EventListed, EventBought, EventCancelled:
		collection := e.Asset.Collection
		w.Collection = &collection
		w.TokenID = e.Asset.TokenID.Dec()
	}

	switch e.Type {
	case EventListed:
		w.Seller = addr(e.Seller)
		w.Price = e.Price.Dec()
	case EventBought:
		w.Seller = addr(e.Seller)
		w.Buyer = addr(e.Buyer)
		w.Price = e.Price.Dec()
		w.RoyaltyReceiver = addr(e.RoyaltyReceiver)
		w.Royalty = e.Royalty.Dec()
		w.PlatformFee = e.PlatformFee.Dec()
		w.SellerShare = e.SellerShare.Dec()
		w.Excess = e.Excess.Dec()
	case EventWithdrawn:
		w.Account = addr(e.Account)
		w.Amount = e.Amount.Dec()
		w.Treasury = e.Treasury
	}

	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Type.IsValid() {
		return fmt.Errorf("unknown event type %q", w.Type)
	}

	out := Event{
		Type:     w.Type,
		Sequence: w.Sequence,
		ID:       w.ID,
		Time:     w.Time,
		Treasury: w.Treasury,
	}
	if w.Collection != nil {
		out.Asset.Collection = *w.Collection
	}
	out.Seller = deref(w.Seller)
	out.Buyer = deref(w.Buyer)
	out.RoyaltyReceiver = deref(w.RoyaltyReceiver)
	out.Account = deref(w.Account)

	fields := []struct {
		name string
		src  string
		dst  *uint256.Int
	}{
		{"token_id", w.TokenID, &out.Asset.TokenID},
		{"price", w.Price, &out.Price},
		{"royalty", w.Royalty, &out.Royalty},
		{"platform_fee", w.PlatformFee, &out.PlatformFee},
		{"seller_share", w.SellerShare, &out.SellerShare},
		{"excess", w.Excess, &out.Excess},
		{"amount", w.Amount, &out.Amount},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		v, err := uint256.FromDecimal(f.src)
		if err != nil {
			return errors.Wrapf(err, "decode event %s", f.name)
		}
		f.dst.Set(v)
	}

	*e = out
	return nil
}

func addr(a common.Address) *common.Address {
	return &a
}

func deref(a *common.Address) common.Address {
	if a == nil {
		return common.Address{}
	}
	return *a
}
