package server

import (
	"fmt"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type poolView struct {
	ID                     string `json:"id"`
	TotalDebtShare         string `json:"totalDebtShare"`
	DebtAccumulatedRate    string `json:"debtAccumulatedRate"`
	PriceWithSafetyMargin  string `json:"priceWithSafetyMargin"`
	DebtCeiling            string `json:"debtCeiling"`
	DebtFloor              string `json:"debtFloor"`
	CloseFactorBps         uint64 `json:"closeFactorBps"`
	LiquidatorIncentiveBps uint64 `json:"liquidatorIncentiveBps"`
	TreasuryFeesBps        uint64 `json:"treasuryFeesBps"`
	Adapter                string `json:"adapter"`
	StabilityFeeRate       string `json:"stabilityFeeRate,omitempty"`
}

type positionView struct {
	PoolID           string `json:"poolId"`
	Address          string `json:"address"`
	LockedCollateral string `json:"lockedCollateral"`
	DebtShare        string `json:"debtShare"`
	DebtValue        string `json:"debtValue"`
	Safe             bool   `json:"safe"`
}

func (s *Server) GetTotals(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"live":                    s.ledger.Live(),
		"totalStablecoinIssued":   s.ledger.TotalStablecoinIssued().String(),
		"totalUnbackedStablecoin": s.ledger.TotalUnbackedStablecoin().String(),
		"totalDebtCeiling":        s.ledger.TotalDebtCeiling().String(),
	}
	if s.oracle != nil {
		resp["stableCoinReferencePrice"] = s.oracle.StableCoinReferencePrice().String()
	}
	if s.systemDebt != nil {
		resp["systemBadDebt"] = s.systemDebt.BadDebt().String()
		resp["systemSurplus"] = s.systemDebt.StablecoinBalance().String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ListPools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"pools": s.ledger.PoolIDs()})
}

func (s *Server) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	pool, ok := s.ledger.Pool(poolID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown pool %q", poolID))
		return
	}
	view := poolView{
		ID:                     poolID,
		TotalDebtShare:         pool.TotalDebtShare.String(),
		DebtAccumulatedRate:    pool.DebtAccumulatedRate.String(),
		PriceWithSafetyMargin:  pool.PriceWithSafetyMargin.String(),
		DebtCeiling:            pool.DebtCeiling.String(),
		DebtFloor:              pool.DebtFloor.String(),
		CloseFactorBps:         pool.CloseFactorBps,
		LiquidatorIncentiveBps: pool.LiquidatorIncentiveBps,
		TreasuryFeesBps:        pool.TreasuryFeesBps,
		Adapter:                pool.Adapter.Hex(),
	}
	if s.collector != nil {
		if rate, ok := s.collector.FeeRate(poolID); ok {
			view.StabilityFeeRate = rate.String()
		}
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	pool, ok := s.ledger.Pool(poolID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown pool %q", poolID))
		return
	}
	pos := s.ledger.GetPosition(poolID, addr)
	debtValue := new(big.Int).Mul(pos.DebtShare, pool.DebtAccumulatedRate)
	collateralValue := new(big.Int).Mul(pos.LockedCollateral, pool.PriceWithSafetyMargin)
	s.writeJSON(w, http.StatusOK, positionView{
		PoolID:           poolID,
		Address:          addr.Hex(),
		LockedCollateral: pos.LockedCollateral.String(),
		DebtShare:        pos.DebtShare.String(),
		DebtValue:        debtValue.String(),
		Safe:             debtValue.Cmp(collateralValue) <= 0,
	})
}

func (s *Server) GetCollateralBalance(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.ledger.Pool(poolID); !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown pool %q", poolID))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"poolId":     poolID,
		"address":    addr.Hex(),
		"collateral": s.ledger.CollateralToken(poolID, addr).String(),
	})
}

func (s *Server) GetBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"address":    addr.Hex(),
		"stablecoin": s.ledger.Stablecoin(addr).String(),
		"badDebt":    s.ledger.SystemBadDebt(addr).String(),
	})
}

func (s *Server) ListSnapshots(w http.ResponseWriter, _ *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("snapshot store not configured"))
		return
	}
	seqs, err := s.snapshots.Sequences()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sequences": seqs})
}
