package storage

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
)

func openTestStore(t *testing.T, retain uint64) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"), retain)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func seededLedger(t *testing.T) *bookkeeper.BookKeeper {
	t.Helper()
	owner := common.BytesToAddress([]byte{0x01})
	oracle := common.BytesToAddress([]byte{0x02})
	adapter := common.BytesToAddress([]byte{0x03})
	alice := common.BytesToAddress([]byte{0x0a})

	acl := access.NewRegistry(owner)
	acl.Grant(access.RolePriceOracle, oracle)
	acl.Grant(access.RoleAdapter, adapter)
	ledger := bookkeeper.NewBookKeeper(acl)
	require.NoError(t, ledger.Init(owner, "WXDC"))

	rad := func(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), fixedpoint.Rad) }
	wad := func(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), fixedpoint.Wad) }
	require.NoError(t, ledger.SetTotalDebtCeiling(owner, rad(1_000)))
	require.NoError(t, ledger.SetDebtCeiling(owner, "WXDC", rad(1_000)))
	require.NoError(t, ledger.SetPriceWithSafetyMargin(oracle, "WXDC", fixedpoint.Ray))
	require.NoError(t, ledger.AddCollateral(adapter, "WXDC", alice, wad(10)))
	require.NoError(t, ledger.AdjustPosition(alice, "WXDC", alice, alice, alice, wad(10), wad(7)))
	return ledger
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t, 0)
	ledger := seededLedger(t)

	seq, err := store.SaveSnapshot(ledger.Snapshot())
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	loaded, loadedSeq, err := store.LatestSnapshot()
	require.NoError(t, err)
	require.Equal(t, seq, loadedSeq)

	restored := bookkeeper.NewBookKeeper(access.NewRegistry(common.BytesToAddress([]byte{0x01})))
	restored.Restore(loaded)

	alice := common.BytesToAddress([]byte{0x0a})
	pos := restored.GetPosition("WXDC", alice)
	require.Zero(t, pos.LockedCollateral.Cmp(new(big.Int).Mul(big.NewInt(10), fixedpoint.Wad)))
	require.Zero(t, pos.DebtShare.Cmp(new(big.Int).Mul(big.NewInt(7), fixedpoint.Wad)))
	require.Zero(t, restored.TotalStablecoinIssued().Cmp(new(big.Int).Mul(big.NewInt(7), fixedpoint.Rad)))
	pool, ok := restored.Pool("WXDC")
	require.True(t, ok)
	require.Zero(t, pool.DebtAccumulatedRate.Cmp(fixedpoint.Ray))
}

func TestSnapshotHistoryAndRetention(t *testing.T) {
	store := openTestStore(t, 2)
	ledger := seededLedger(t)

	for i := 0; i < 4; i++ {
		_, err := store.SaveSnapshot(ledger.Snapshot())
		require.NoError(t, err)
	}
	seqs, err := store.Sequences()
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 4}, seqs)

	_, err = store.SnapshotAt(1)
	require.ErrorIs(t, err, ErrNotFound)
	snap, err := store.SnapshotAt(3)
	require.NoError(t, err)
	require.NotNil(t, snap)
}

func TestLatestSnapshotEmpty(t *testing.T) {
	store := openTestStore(t, 0)
	_, _, err := store.LatestSnapshot()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAccrualRoundTrip(t *testing.T) {
	store := openTestStore(t, 0)

	_, ok, err := store.LastAccrual("WXDC")
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.SaveAccrual("WXDC", at))

	loaded, ok, err := store.LastAccrual("WXDC")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, loaded.Equal(at))
}
