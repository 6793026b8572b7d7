package ledger

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
)

// Credit single pending credit of a batch.
type Credit struct {
	Account common.Address
	Amount  *uint256.Int
}

// Ledger withdrawable balances per account plus the operator treasury.
// Balances only grow, except on withdrawal which resets them to zero.
// Not safe for concurrent use; the engine serializes access.
type Ledger struct {
	balances map[common.Address]*uint256.Int
	treasury *uint256.Int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*uint256.Int),
		treasury: new(uint256.Int),
	}
}

// Balance returns a copy of the account balance.
func (l *Ledger) Balance(account common.Address) *uint256.Int {
	if b, ok := l.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// Credit adds amount to the account balance. It fails with ErrOverflow instead of wrapping around.
func (l *Ledger) Credit(account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	next, overflow := new(uint256.Int).AddOverflow(l.Balance(account), amount)
	if overflow {
		return errors.Wrapf(domain.ErrOverflow, "credit %s to %s", amount.Dec(), account.Hex())
	}
	l.balances[account] = next
	return nil
}

// CheckCredits reports whether applying all credits (and the treasury credit) would succeed.
// Nothing is mutated. An account may appear several times.
func (l *Ledger) CheckCredits(treasury *uint256.Int, credits ...Credit) error {
	pending := make(map[common.Address]*uint256.Int, len(credits))
	for _, c := range credits {
		if c.Amount == nil || c.Amount.IsZero() {
			continue
		}
		current, ok := pending[c.Account]
		if !ok {
			current = l.Balance(c.Account)
		}
		next, overflow := new(uint256.Int).AddOverflow(current, c.Amount)
		if overflow {
			return errors.Wrapf(domain.ErrOverflow, "credit %s to %s", c.Amount.Dec(), c.Account.Hex())
		}
		pending[c.Account] = next
	}

	if treasury != nil {
		if _, overflow := new(uint256.Int).AddOverflow(l.treasury, treasury); overflow {
			return errors.Wrapf(domain.ErrOverflow, "treasury credit %s", treasury.Dec())
		}
	}
	return nil
}

// Withdraw reads the balance, resets it to zero and returns the amount.
func (l *Ledger) Withdraw(account common.Address) (*uint256.Int, error) {
	b, ok := l.balances[account]
	if !ok || b.IsZero() {
		return nil, domain.ErrNothingToWithdraw
	}
	delete(l.balances, account)
	return b, nil
}

// Treasury returns a copy of the treasury balance.
func (l *Ledger) Treasury() *uint256.Int {
	return new(uint256.Int).Set(l.treasury)
}

// TreasuryCredit adds a platform fee to the treasury.
func (l *Ledger) TreasuryCredit(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	next, overflow := new(uint256.Int).AddOverflow(l.treasury, amount)
	if overflow {
		return errors.Wrapf(domain.ErrOverflow, "treasury credit %s", amount.Dec())
	}
	l.treasury = next
	return nil
}

// TreasuryWithdraw resets the treasury to zero and returns the previous amount.
func (l *Ledger) TreasuryWithdraw() (*uint256.Int, error) {
	if l.treasury.IsZero() {
		return nil, domain.ErrNothingToWithdraw
	}
	amount := l.treasury
	l.treasury = new(uint256.Int)
	return amount, nil
}

// Snapshot serializable copy of the ledger.
type Snapshot struct {
	Balances map[string]string `json:"balances"`
	Treasury string            `json:"treasury"`
}

// Snapshot returns a copy of all non-zero balances.
func (l *Ledger) Snapshot() Snapshot {
	s := Snapshot{
		Balances: make(map[string]string, len(l.balances)),
		Treasury: l.treasury.Dec(),
	}
	for account, b := range l.balances {
		if b.IsZero() {
			continue
		}
		s.Balances[account.Hex()] = b.Dec()
	}
	return s
}

// Restore replaces the ledger content with the snapshot.
func (l *Ledger) Restore(s Snapshot) error {
	balances := make(map[common.Address]*uint256.Int, len(s.Balances))
	for account, v := range s.Balances {
		if !common.IsHexAddress(account) {
			return errors.Errorf("invalid account %q in ledger snapshot", account)
		}
		amount, err := domain.ParseAmount(v)
		if err != nil {
			return errors.Wrapf(err, "decode %s balance", account)
		}
		balances[common.HexToAddress(account)] = amount
	}

	treasury := new(uint256.Int)
	if s.Treasury != "" {
		t, err := domain.ParseAmount(s.Treasury)
		if err != nil {
			return errors.Wrap(err, "decode treasury")
		}
		treasury = t
	}

	l.balances = balances
	l.treasury = treasury
	return nil
}

// Accounts returns accounts holding a non-zero balance, sorted.
func (l *Ledger) Accounts() []common.Address {
	out := make([]common.Address, 0, len(l.balances))
	for account, b := range l.balances {
		if !b.IsZero() {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
