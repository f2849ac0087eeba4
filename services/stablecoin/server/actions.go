package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/leyr1112/alpaca-stablecoin/native/liquidation"
	"github.com/leyr1112/alpaca-stablecoin/observability"
)

type addCollateralRequest struct {
	From   string `json:"from"`
	Who    string `json:"who"`
	Amount string `json:"amount"` // [wad] signed
}

func (s *Server) AddCollateral(w http.ResponseWriter, r *http.Request) {
	var req addCollateralRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	who, err := parseAddress(req.Who)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseBigInt(req.Amount, "amount")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err = s.ledger.AddCollateral(caller, poolID, who, amount)
	observability.Core().ObserveLedgerOp("add_collateral", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"collateral": s.ledger.CollateralToken(poolID, who).String(),
	})
}

type adjustPositionRequest struct {
	From            string `json:"from"`
	PositionAddress string `json:"positionAddress"`
	CollateralOwner string `json:"collateralOwner"`
	StablecoinOwner string `json:"stablecoinOwner"`
	CollateralDelta string `json:"collateralDelta"` // [wad] signed
	DebtShareDelta  string `json:"debtShareDelta"`  // [wad] signed
}

func (s *Server) AdjustPosition(w http.ResponseWriter, r *http.Request) {
	var req adjustPositionRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	position, err := parseAddress(req.PositionAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	collateralOwner, err := parseAddress(req.CollateralOwner)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	stablecoinOwner, err := parseAddress(req.StablecoinOwner)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	collateralDelta, err := parseBigInt(req.CollateralDelta, "collateralDelta")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	debtShareDelta, err := parseBigInt(req.DebtShareDelta, "debtShareDelta")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err = s.ledger.AdjustPosition(caller, poolID, position, collateralOwner, stablecoinOwner, collateralDelta, debtShareDelta)
	observability.Core().ObserveLedgerOp("adjust_position", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	pos := s.ledger.GetPosition(poolID, position)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"lockedCollateral": pos.LockedCollateral.String(),
		"debtShare":        pos.DebtShare.String(),
	})
}

type movePositionRequest struct {
	From            string `json:"from"`
	Src             string `json:"src"`
	Dst             string `json:"dst"`
	CollateralDelta string `json:"collateralDelta"` // [wad]
	DebtShareDelta  string `json:"debtShareDelta"`  // [wad]
}

func (s *Server) MovePosition(w http.ResponseWriter, r *http.Request) {
	var req movePositionRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	src, err := parseAddress(req.Src)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	dst, err := parseAddress(req.Dst)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	collateralDelta, err := parseBigInt(req.CollateralDelta, "collateralDelta")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	debtShareDelta, err := parseBigInt(req.DebtShareDelta, "debtShareDelta")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.ledger.MovePosition(caller, chi.URLParam(r, "poolID"), src, dst, collateralDelta, debtShareDelta)
	observability.Core().ObserveLedgerOp("move_position", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type moveCollateralRequest struct {
	From   string `json:"from"`
	PoolID string `json:"poolId"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Amount string `json:"amount"` // [wad]
}

func (s *Server) MoveCollateral(w http.ResponseWriter, r *http.Request) {
	var req moveCollateralRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	src, err := parseAddress(req.Src)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	dst, err := parseAddress(req.Dst)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseBigInt(req.Amount, "amount")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.ledger.MoveCollateral(caller, req.PoolID, src, dst, amount)
	observability.Core().ObserveLedgerOp("move_collateral", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type moveStablecoinRequest struct {
	From   string `json:"from"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Amount string `json:"amount"` // [rad]
}

func (s *Server) MoveStablecoin(w http.ResponseWriter, r *http.Request) {
	var req moveStablecoinRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	src, err := parseAddress(req.Src)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	dst, err := parseAddress(req.Dst)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseBigInt(req.Amount, "amount")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.ledger.MoveStablecoin(caller, src, dst, amount)
	observability.Core().ObserveLedgerOp("move_stablecoin", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type whitelistRequest struct {
	From     string `json:"from"`
	Operator string `json:"operator"`
}

func (s *Server) Whitelist(w http.ResponseWriter, r *http.Request) {
	s.setDelegation(w, r, s.ledger.Whitelist)
}

func (s *Server) Blacklist(w http.ResponseWriter, r *http.Request) {
	s.setDelegation(w, r, s.ledger.Blacklist)
}

func (s *Server) setDelegation(w http.ResponseWriter, r *http.Request, apply func(owner, operator common.Address)) {
	var req whitelistRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	operator, err := parseAddress(req.Operator)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	apply(owner, operator)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"owner":    owner.Hex(),
		"operator": operator.Hex(),
		"allowed":  s.ledger.IsAllowed(owner, operator),
	})
}

func (s *Server) CollectStabilityFee(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		s.writeError(w, http.StatusNotFound, errors.New("stability fee collector not configured"))
		return
	}
	poolID := chi.URLParam(r, "poolID")
	now := s.now().UTC()
	delta, err := s.collector.Collect(r.Context(), poolID, now)
	observability.Core().ObserveFeeCollection(poolID, err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.snapshots != nil {
		if err := s.snapshots.SaveAccrual(poolID, now); err != nil {
			s.logger.Error("persist accrual", "pool", poolID, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"poolId":      poolID,
		"rateDelta":   delta.String(),
		"collectedAt": now.Format(time.RFC3339),
	})
}

func (s *Server) PublishPrice(w http.ResponseWriter, r *http.Request) {
	if s.oracle == nil {
		s.writeError(w, http.StatusNotFound, errors.New("price oracle not configured"))
		return
	}
	poolID := chi.URLParam(r, "poolID")
	if err := s.oracle.SetPrice(poolID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	pool, _ := s.ledger.Pool(poolID)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"poolId":                poolID,
		"priceWithSafetyMargin": pool.PriceWithSafetyMargin.String(),
	})
}

type feedPriceRequest struct {
	From  string `json:"from"`
	Price string `json:"price"` // [wad]
}

func (s *Server) SetFeedPrice(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	feed, ok := s.feeds[poolID]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no price feed for pool %q", poolID))
		return
	}
	var req feedPriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := parseBigInt(req.Price, "price")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	price, overflow := uint256.FromBig(raw)
	if overflow || raw.Sign() < 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("price out of range"))
		return
	}
	if err := feed.SetPrice(caller, price); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"poolId": poolID, "price": price.Dec()})
}

type liquidateRequest struct {
	From                string `json:"from"`
	PoolID              string `json:"poolId"`
	PositionAddress     string `json:"positionAddress"`
	DebtShareToRepay    string `json:"debtShareToRepay"`    // [wad]
	MaxDebtShareToRepay string `json:"maxDebtShareToRepay"` // [wad]
	CollateralRecipient string `json:"collateralRecipient"`
	Data                string `json:"data,omitempty"` // hex payload for flash lending callees
}

type liquidationView struct {
	DebtValueRepaid   string `json:"debtValueRepaid"`
	DebtShareRepaid   string `json:"debtShareRepaid"`
	CollateralSeized  string `json:"collateralSeized"`
	CollateralPaidOut string `json:"collateralPaidOut"`
	TreasuryFee       string `json:"treasuryFee"`
	BadDebtValue      string `json:"badDebtValue"`
	FlashLending      bool   `json:"flashLending"`
}

func (r liquidateRequest) params() (common.Address, liquidation.LiquidateParams, error) {
	var p liquidation.LiquidateParams
	caller, err := parseAddress(r.From)
	if err != nil {
		return common.Address{}, p, err
	}
	position, err := parseAddress(r.PositionAddress)
	if err != nil {
		return common.Address{}, p, err
	}
	recipient, err := parseAddress(r.CollateralRecipient)
	if err != nil {
		return common.Address{}, p, err
	}
	repay, err := parseBigInt(r.DebtShareToRepay, "debtShareToRepay")
	if err != nil {
		return common.Address{}, p, err
	}
	maxRepay, err := parseBigInt(r.MaxDebtShareToRepay, "maxDebtShareToRepay")
	if err != nil {
		return common.Address{}, p, err
	}
	p = liquidation.LiquidateParams{
		PoolID:              r.PoolID,
		PositionAddress:     position,
		DebtShareToRepay:    repay,
		MaxDebtShareToRepay: maxRepay,
		CollateralRecipient: recipient,
		Data:                common.FromHex(r.Data),
	}
	return caller, p, nil
}

func liquidationResult(res *liquidation.Result) liquidationView {
	return liquidationView{
		DebtValueRepaid:   res.DebtValueRepaid.String(),
		DebtShareRepaid:   res.DebtShareRepaid.String(),
		CollateralSeized:  res.CollateralSeized.String(),
		CollateralPaidOut: res.CollateralPaidOut.String(),
		TreasuryFee:       res.TreasuryFee.String(),
		BadDebtValue:      res.BadDebtValue.String(),
		FlashLending:      res.FlashLending,
	}
}

func (s *Server) Liquidate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, http.StatusNotFound, errors.New("liquidation engine not configured"))
		return
	}
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, params, err := req.params()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.Liquidate(r.Context(), caller, params)
	observability.Core().ObserveLiquidation(params.PoolID, err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, liquidationResult(res))
}

type batchLiquidateRequest struct {
	From    string             `json:"from"`
	Entries []liquidateRequest `json:"entries"`
}

type batchEntryView struct {
	Result *liquidationView `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (s *Server) BatchLiquidate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, http.StatusNotFound, errors.New("liquidation engine not configured"))
		return
	}
	var req batchLiquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	params := make([]liquidation.LiquidateParams, 0, len(req.Entries))
	for i, entry := range req.Entries {
		_, p, err := liquidateRequest{
			From:                req.From,
			PoolID:              entry.PoolID,
			PositionAddress:     entry.PositionAddress,
			DebtShareToRepay:    entry.DebtShareToRepay,
			MaxDebtShareToRepay: entry.MaxDebtShareToRepay,
			CollateralRecipient: entry.CollateralRecipient,
			Data:                entry.Data,
		}.params()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("entry %d: %w", i, err))
			return
		}
		params = append(params, p)
	}
	entries, err := s.engine.BatchLiquidate(r.Context(), caller, params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]batchEntryView, len(entries))
	for i, entry := range entries {
		observability.Core().ObserveLiquidation(entry.Params.PoolID, entry.Err)
		if entry.Err != nil {
			views[i].Error = entry.Err.Error()
			continue
		}
		view := liquidationResult(entry.Result)
		views[i].Result = &view
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

type settleRequest struct {
	Amount string `json:"amount"` // [rad]
}

func (s *Server) SettleSystemBadDebt(w http.ResponseWriter, r *http.Request) {
	if s.systemDebt == nil {
		s.writeError(w, http.StatusNotFound, errors.New("system debt engine not configured"))
		return
	}
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseBigInt(req.Amount, "amount")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.systemDebt.SettleSystemBadDebt(amount); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"badDebt": s.systemDebt.BadDebt().String(),
		"surplus": s.systemDebt.StablecoinBalance().String(),
	})
}

type withdrawRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	PoolID string `json:"poolId,omitempty"` // set for collateral surplus withdrawal
	Amount string `json:"amount"`           // [rad] stablecoin, [wad] collateral
}

func (s *Server) WithdrawSurplus(w http.ResponseWriter, r *http.Request) {
	if s.systemDebt == nil {
		s.writeError(w, http.StatusNotFound, errors.New("system debt engine not configured"))
		return
	}
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseBigInt(req.Amount, "amount")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PoolID != "" {
		err = s.systemDebt.WithdrawCollateralSurplus(caller, req.PoolID, to, amount)
	} else {
		err = s.systemDebt.WithdrawStablecoinSurplus(caller, to, amount)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) SaveSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, http.StatusNotFound, errors.New("snapshot store not configured"))
		return
	}
	start := time.Now()
	seq, err := s.snapshots.SaveSnapshot(s.ledger.Snapshot())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	observability.Core().ObserveSnapshot(time.Since(start))
	s.writeJSON(w, http.StatusOK, map[string]uint64{"sequence": seq})
}
