package common

import "context"

// Gateway abstracts order entry on a trading venue.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (OrderResult, error)
	CancelAllOpenOrders(ctx context.Context, symbol string) error
}
