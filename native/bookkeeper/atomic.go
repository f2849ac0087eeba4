package bookkeeper

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Tx is a ledger handle valid only inside an Atomically callback. Its methods
// assume the ledger lock is already held; using a Tx after the callback
// returns is a bug.
type Tx struct {
	b *BookKeeper
}

// Pool returns a copy of the pool state.
func (t *Tx) Pool(poolID string) (CollateralPool, bool) {
	return t.b.poolLocked(poolID)
}

// GetPosition returns a copy of a position; absent positions read as zero.
func (t *Tx) GetPosition(poolID string, addr common.Address) Position {
	return *t.b.position(poolID, addr).clone()
}

// ConfiscatePosition seizes collateral and debt share within the section.
func (t *Tx) ConfiscatePosition(caller common.Address, poolID string, positionAddr, collateralCreditor, stablecoinDebtor common.Address, collateralDelta, debtShareDelta *big.Int) error {
	return t.b.confiscatePositionLocked(caller, poolID, positionAddr, collateralCreditor, stablecoinDebtor, collateralDelta, debtShareDelta)
}

// MoveCollateral transfers free collateral within the section.
func (t *Tx) MoveCollateral(caller common.Address, poolID string, src, dst common.Address, wad *big.Int) error {
	return t.b.moveCollateralLocked(caller, poolID, src, dst, wad)
}

// MoveStablecoin transfers stablecoin value within the section.
func (t *Tx) MoveStablecoin(caller, src, dst common.Address, rad *big.Int) error {
	return t.b.moveStablecoinLocked(caller, src, dst, rad)
}

// Atomically runs fn with exclusive ownership of the ledger. No other caller
// can read or commit between fn's first access and its last, so fn sees one
// consistent state throughout. If fn returns an error the ledger is rolled
// back to its state at entry; writes committed before entry stay committed.
func (b *BookKeeper) Atomically(fn func(tx *Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.snapshotLocked()
	if err := fn(&Tx{b: b}); err != nil {
		b.restoreLocked(snap)
		return err
	}
	return nil
}
