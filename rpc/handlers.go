package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"lendbook/native/common"
	"lendbook/native/lendbook"
	"lendbook/observability"
)

type fundParams struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type depositParams struct {
	Owner       string `json:"owner"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	PairedPrice string `json:"pairedPrice,omitempty"`
}

type orderQuantityParams struct {
	Caller   string `json:"caller"`
	OrderID  uint64 `json:"orderId"`
	Quantity string `json:"quantity"`
}

type repayParams struct {
	Borrower   string `json:"borrower"`
	PositionID uint64 `json:"positionId"`
	Quantity   string `json:"quantity"`
}

type liquidateParams struct {
	Liquidator string `json:"liquidator"`
	PositionID uint64 `json:"positionId"`
}

type liquidateBorrowerParams struct {
	Liquidator string `json:"liquidator"`
	Borrower   string `json:"borrower"`
	Amount     string `json:"amount"`
}

type pairedPriceParams struct {
	Caller      string `json:"caller"`
	OrderID     uint64 `json:"orderId"`
	PairedPrice string `json:"pairedPrice"`
}

type borrowableParams struct {
	Caller     string `json:"caller"`
	OrderID    uint64 `json:"orderId"`
	Borrowable bool   `json:"borrowable"`
}

type userAssetParams struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
}

type orderIDResult struct {
	OrderID uint64 `json:"orderId"`
}

type positionIDResult struct {
	PositionID uint64 `json:"positionId"`
}

type takeResult struct {
	Taken              string `json:"taken"`
	Paid               string `json:"paid"`
	Seized             string `json:"seized"`
	ReplacementOrderID uint64 `json:"replacementOrderId,omitempty"`
}

type liquidateResult struct {
	Repaid string `json:"repaid"`
	Seized string `json:"seized"`
}

type balanceResult struct {
	User         string `json:"user"`
	BalanceQuote string `json:"balanceQuote"`
	BalanceBase  string `json:"balanceBase"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("invalid integer amount")
	}
	return value, nil
}

func parseSide(raw string) (lendbook.Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return lendbook.SideBuy, nil
	case "sell":
		return lendbook.SideSell, nil
	}
	return 0, errors.New("side must be buy or sell")
}

func parseAsset(raw string) (lendbook.Asset, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "quote":
		return lendbook.AssetQuote, nil
	case "base":
		return lendbook.AssetBase, nil
	}
	return 0, errors.New("asset must be quote or base")
}

// writeEngineError maps engine sentinels onto JSON-RPC error codes and HTTP
// statuses.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, common.ErrActionPaused):
		writeError(w, http.StatusServiceUnavailable, id, codeActionPaused, err.Error(), nil)
	case errors.Is(err, lendbook.ErrOrderNotFound),
		errors.Is(err, lendbook.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, id, codeServerError, err.Error(), nil)
	case errors.Is(err, lendbook.ErrPriceGuardFailed),
		errors.Is(err, lendbook.ErrOracleUnavailable):
		writeError(w, http.StatusConflict, id, codePriceGuard, err.Error(), nil)
	case errors.Is(err, lendbook.ErrUnauthorizedCaller):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, lendbook.ErrInvalidQuantity),
		errors.Is(err, lendbook.ErrInvalidPrice),
		errors.Is(err, lendbook.ErrInvalidPairedPrice),
		errors.Is(err, lendbook.ErrInsufficientAvailable),
		errors.Is(err, lendbook.ErrInsufficientCollateral),
		errors.Is(err, lendbook.ErrFloorBreach),
		errors.Is(err, lendbook.ErrRelocationFailed),
		errors.Is(err, lendbook.ErrNotBorrowable),
		errors.Is(err, lendbook.ErrSelfLending),
		errors.Is(err, lendbook.ErrNotLiquidatable):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handleFund(w http.ResponseWriter, req *RPCRequest) {
	var input fundParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	asset, err := parseAsset(input.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Fund(input.User, asset, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceView(input.User, s.engine))
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var input depositParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	side, err := parseSide(input.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount(input.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	quantity, err := parseAmount(input.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var paired *big.Int
	if strings.TrimSpace(input.PairedPrice) != "" {
		paired, err = parseAmount(input.PairedPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	orderID, err := s.engine.Deposit(input.Owner, quantity, price, side, paired)
	observability.Book().RecordOperation("deposit", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.recordMarkets()
	writeResult(w, req.ID, orderIDResult{OrderID: orderID})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var input orderQuantityParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	quantity, err := parseAmount(input.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	err = s.engine.Withdraw(input.Caller, input.OrderID, quantity)
	observability.Book().RecordOperation("withdraw", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.recordMarkets()
	writeResult(w, req.ID, balanceView(input.Caller, s.engine))
}

func (s *Server) handleBorrow(w http.ResponseWriter, req *RPCRequest) {
	var input orderQuantityParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	quantity, err := parseAmount(input.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	positionID, err := s.engine.Borrow(input.Caller, input.OrderID, quantity)
	observability.Book().RecordOperation("borrow", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.recordMarkets()
	writeResult(w, req.ID, positionIDResult{PositionID: positionID})
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) {
	var input repayParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	quantity, err := parseAmount(input.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	err = s.engine.Repay(input.Borrower, input.PositionID, quantity)
	observability.Book().RecordOperation("repay", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.recordMarkets()
	writeResult(w, req.ID, balanceView(input.Borrower, s.engine))
}

func (s *Server) handleTake(w http.ResponseWriter, req *RPCRequest) {
	var input orderQuantityParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	quantity, err := parseAmount(input.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receipt, err := s.engine.Take(input.Caller, input.OrderID, quantity)
	observability.Book().RecordOperation("take", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.recordMarkets()
	writeResult(w, req.ID, takeResult{
		Taken:              receipt.Taken.String(),
		Paid:               receipt.Paid.String(),
		Seized:             receipt.Seized.String(),
		ReplacementOrderID: receipt.ReplacementOrderID,
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *RPCRequest) {
	var input liquidateParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	repaid, seized, err := s.engine.Liquidate(input.Liquidator, input.PositionID)
	observability.Book().RecordOperation("liquidate", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.recordMarkets()
	writeResult(w, req.ID, liquidateResult{Repaid: repaid.String(), Seized: seized.String()})
}

func (s *Server) handleLiquidateBorrower(w http.ResponseWriter, req *RPCRequest) {
	var input liquidateBorrowerParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	repaid, seized, err := s.engine.LiquidateBorrower(input.Liquidator, input.Borrower, amount)
	observability.Book().RecordOperation("liquidate_borrower", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.recordMarkets()
	writeResult(w, req.ID, liquidateResult{Repaid: repaid.String(), Seized: seized.String()})
}

func (s *Server) handleChangePairedPrice(w http.ResponseWriter, req *RPCRequest) {
	var input pairedPriceParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	paired, err := parseAmount(input.PairedPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.ChangePairedPrice(input.Caller, input.OrderID, paired); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	order, err := s.engine.Order(input.OrderID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, order)
}

func (s *Server) handleChangeBorrowable(w http.ResponseWriter, req *RPCRequest) {
	var input borrowableParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.ChangeBorrowable(input.Caller, input.OrderID, input.Borrowable); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	order, err := s.engine.Order(input.OrderID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, req *RPCRequest) {
	var orderID uint64
	if err := decodeSingleID(req, "orderId", &orderID); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	order, err := s.engine.Order(orderID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, order)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) {
	var positionID uint64
	if err := decodeSingleID(req, "positionId", &positionID); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	position, err := s.engine.Position(positionID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, position)
}

func (s *Server) handleGetUser(w http.ResponseWriter, req *RPCRequest) {
	user, err := decodeSingleString(req, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, s.engine.User(user))
}

func (s *Server) handleGetMarket(w http.ResponseWriter, req *RPCRequest) {
	raw, err := decodeSingleString(req, "asset")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAsset(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, s.engine.Market(asset))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	user, err := decodeSingleString(req, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, balanceView(user, s.engine))
}

func (s *Server) handleExcessCollateral(w http.ResponseWriter, req *RPCRequest) {
	var input userAssetParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	asset, err := parseAsset(input.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	excess := s.engine.ExcessCollateral(input.User, asset)
	writeResult(w, req.ID, map[string]string{"excessCollateral": excess.String()})
}

// decodeSingleID accepts either a bare number or an object carrying the named
// field, mirroring the tolerant parameter handling of the query endpoints.
func decodeSingleID(req *RPCRequest, field string, out *uint64) error {
	if len(req.Params) != 1 {
		return errors.New("expected a single parameter")
	}
	if err := json.Unmarshal(req.Params[0], out); err == nil {
		return nil
	}
	var wrapper map[string]uint64
	if err := json.Unmarshal(req.Params[0], &wrapper); err != nil {
		return errors.New("invalid id parameter")
	}
	value, ok := wrapper[field]
	if !ok {
		return errors.New(field + " required")
	}
	*out = value
	return nil
}

func decodeSingleString(req *RPCRequest, field string) (string, error) {
	if len(req.Params) != 1 {
		return "", errors.New("expected a single parameter")
	}
	var direct string
	if err := json.Unmarshal(req.Params[0], &direct); err == nil {
		return direct, nil
	}
	var wrapper map[string]string
	if err := json.Unmarshal(req.Params[0], &wrapper); err != nil {
		return "", errors.New("invalid parameter")
	}
	value, ok := wrapper[field]
	if !ok || strings.TrimSpace(value) == "" {
		return "", errors.New(field + " required")
	}
	return value, nil
}

func balanceView(user string, engine *lendbook.Engine) balanceResult {
	acc := engine.AccountBalance(user)
	return balanceResult{
		User:         user,
		BalanceQuote: acc.BalanceQuote.String(),
		BalanceBase:  acc.BalanceBase.String(),
	}
}

// recordMarkets refreshes the aggregate book gauges after a mutation.
func (s *Server) recordMarkets() {
	metrics := observability.Book()
	quote := s.engine.Market(lendbook.AssetQuote)
	base := s.engine.Market(lendbook.AssetBase)
	metrics.RecordMarket("quote", quote.TotalDeposits, quote.TotalBorrows)
	metrics.RecordMarket("base", base.TotalDeposits, base.TotalBorrows)
}
