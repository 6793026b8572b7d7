package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/pandamarket/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func maxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

func TestLedger_CreditAccumulates(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit(alice, uint256.NewInt(350)))
	require.NoError(t, l.Credit(alice, uint256.NewInt(50)))
	require.NoError(t, l.Credit(bob, nil))

	assert.Equal(t, uint64(400), l.Balance(alice).Uint64())
	assert.True(t, l.Balance(bob).IsZero())
	assert.Equal(t, []common.Address{alice}, l.Accounts())
}

func TestLedger_CreditOverflow(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit(alice, maxUint256()))

	err := l.Credit(alice, uint256.NewInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOverflow))
	assert.True(t, l.Balance(alice).Eq(maxUint256()), "failed credit must not change the balance")
}

func TestLedger_CheckCredits(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit(alice, new(uint256.Int).Sub(maxUint256(), uint256.NewInt(10))))

	// each credit alone fits, together they do not
	err := l.CheckCredits(nil,
		Credit{Account: alice, Amount: uint256.NewInt(6)},
		Credit{Account: alice, Amount: uint256.NewInt(6)},
	)
	assert.True(t, errors.Is(err, domain.ErrOverflow))

	assert.NoError(t, l.CheckCredits(uint256.NewInt(5),
		Credit{Account: alice, Amount: uint256.NewInt(10)},
		Credit{Account: bob, Amount: maxUint256()},
	))

	require.NoError(t, l.TreasuryCredit(maxUint256()))
	assert.True(t, errors.Is(l.CheckCredits(uint256.NewInt(1)), domain.ErrOverflow))
}

func TestLedger_Withdraw(t *testing.T) {
	l := New()

	_, err := l.Withdraw(alice)
	assert.True(t, errors.Is(err, domain.ErrNothingToWithdraw))

	require.NoError(t, l.Credit(alice, uint256.NewInt(40)))
	amount, err := l.Withdraw(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), amount.Uint64())
	assert.True(t, l.Balance(alice).IsZero())

	_, err = l.Withdraw(alice)
	assert.True(t, errors.Is(err, domain.ErrNothingToWithdraw))
}

func TestLedger_Treasury(t *testing.T) {
	l := New()

	_, err := l.TreasuryWithdraw()
	assert.True(t, errors.Is(err, domain.ErrNothingToWithdraw))

	require.NoError(t, l.TreasuryCredit(uint256.NewInt(10)))
	require.NoError(t, l.TreasuryCredit(uint256.NewInt(15)))
	assert.Equal(t, uint64(25), l.Treasury().Uint64())

	amount, err := l.TreasuryWithdraw()
	require.NoError(t, err)
	assert.Equal(t, uint64(25), amount.Uint64())
	assert.True(t, l.Treasury().IsZero())

	err = l.TreasuryCredit(maxUint256())
	require.NoError(t, err)
	assert.True(t, errors.Is(l.TreasuryCredit(uint256.NewInt(1)), domain.ErrOverflow))
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit(alice, uint256.NewInt(350)))
	require.NoError(t, l.Credit(bob, uint256.NewInt(40)))
	require.NoError(t, l.TreasuryCredit(uint256.NewInt(10)))

	restored := New()
	require.NoError(t, restored.Restore(l.Snapshot()))
	assert.Equal(t, uint64(350), restored.Balance(alice).Uint64())
	assert.Equal(t, uint64(40), restored.Balance(bob).Uint64())
	assert.Equal(t, uint64(10), restored.Treasury().Uint64())

	err := restored.Restore(Snapshot{Balances: map[string]string{"nope": "1"}})
	assert.Error(t, err)
	assert.Equal(t, uint64(350), restored.Balance(alice).Uint64(), "failed restore keeps previous state")
}
