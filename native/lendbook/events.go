package lendbook

import (
	"math/big"
	"strconv"

	"lendbook/core/types"
)

const (
	EventTypeDeposit           = "lendbook.deposit"
	EventTypeWithdraw          = "lendbook.withdraw"
	EventTypeBorrow            = "lendbook.borrow"
	EventTypeRepay             = "lendbook.repay"
	EventTypeTake              = "lendbook.take"
	EventTypeLiquidate         = "lendbook.liquidate"
	EventTypeLiquidateBorrower = "lendbook.liquidate_borrower"
	EventTypeRelocate          = "lendbook.relocate"
	EventTypeReplace           = "lendbook.replace"
	EventTypePairedPrice       = "lendbook.paired_price"
	EventTypeBorrowable        = "lendbook.borrowable"
)

type bookEvent struct {
	evt *types.Event
}

func (e bookEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bookEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func newOrderEvent(eventType string, order *Order, extra map[string]string) bookEvent {
	attrs := map[string]string{
		"orderId": formatID(order.ID),
		"owner":   order.Owner,
		"side":    order.Side.String(),
		"price":   formatAmount(order.Price),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return bookEvent{evt: &types.Event{Type: eventType, Attributes: attrs}}
}

func newDepositEvent(order *Order, quantity *big.Int) bookEvent {
	return newOrderEvent(EventTypeDeposit, order, map[string]string{
		"quantity": formatAmount(quantity),
	})
}

func newWithdrawEvent(order *Order, quantity *big.Int) bookEvent {
	return newOrderEvent(EventTypeWithdraw, order, map[string]string{
		"quantity": formatAmount(quantity),
	})
}

func newBorrowEvent(order *Order, position *Position, quantity *big.Int) bookEvent {
	return newOrderEvent(EventTypeBorrow, order, map[string]string{
		"positionId": formatID(position.ID),
		"borrower":   position.Borrower,
		"quantity":   formatAmount(quantity),
	})
}

func newRepayEvent(order *Order, position *Position, quantity *big.Int) bookEvent {
	return newOrderEvent(EventTypeRepay, order, map[string]string{
		"positionId": formatID(position.ID),
		"borrower":   position.Borrower,
		"quantity":   formatAmount(quantity),
	})
}

func newTakeEvent(order *Order, taker string, receipt *TakeReceipt) bookEvent {
	return newOrderEvent(EventTypeTake, order, map[string]string{
		"taker":       taker,
		"taken":       formatAmount(receipt.Taken),
		"paid":        formatAmount(receipt.Paid),
		"seized":      formatAmount(receipt.Seized),
		"replacement": formatID(receipt.ReplacementOrderID),
	})
}

func newLiquidateEvent(order *Order, position *Position, liquidator string, repaid, seized *big.Int) bookEvent {
	return newOrderEvent(EventTypeLiquidate, order, map[string]string{
		"positionId": formatID(position.ID),
		"borrower":   position.Borrower,
		"liquidator": liquidator,
		"repaid":     formatAmount(repaid),
		"seized":     formatAmount(seized),
	})
}

func newLiquidateBorrowerEvent(borrower, liquidator string, repaid, seized *big.Int) bookEvent {
	return bookEvent{evt: &types.Event{Type: EventTypeLiquidateBorrower, Attributes: map[string]string{
		"borrower":   borrower,
		"liquidator": liquidator,
		"repaid":     formatAmount(repaid),
		"seized":     formatAmount(seized),
	}}}
}

func newRelocateEvent(position *Position, from, to *Order) bookEvent {
	return newOrderEvent(EventTypeRelocate, to, map[string]string{
		"positionId":  formatID(position.ID),
		"borrower":    position.Borrower,
		"fromOrderId": formatID(from.ID),
		"principal":   formatAmount(position.Principal),
	})
}

func newReplaceEvent(origin, replacement *Order, proceeds *big.Int) bookEvent {
	return newOrderEvent(EventTypeReplace, replacement, map[string]string{
		"originOrderId": formatID(origin.ID),
		"proceeds":      formatAmount(proceeds),
	})
}

func newPairedPriceEvent(order *Order) bookEvent {
	return newOrderEvent(EventTypePairedPrice, order, map[string]string{
		"pairedPrice": formatAmount(order.PairedPrice),
	})
}

func newBorrowableEvent(order *Order) bookEvent {
	return newOrderEvent(EventTypeBorrowable, order, map[string]string{
		"borrowable": strconv.FormatBool(order.Borrowable),
	})
}
