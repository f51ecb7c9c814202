package service

import (
	"context"
	"log/slog"

	"github.com/rs/xid"
	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/gateway"
	"github.com/sakif/notesfy/internal/money"
)

// OrderService creates gateway orders for the fixed download price. It
// keeps no local state: the order lives at the gateway and comes back as
// part of the payment proof.
type OrderService struct {
	gateway gateway.OrderCreator
	price   money.Amount
	logger  *slog.Logger
}

func NewOrderService(gw gateway.OrderCreator, price money.Amount, logger *slog.Logger) *OrderService {
	return &OrderService{gateway: gw, price: price, logger: logger}
}

// CreateOrder asks the gateway for an order of the download price. Any
// gateway failure, timeouts included, is returned as apperror.ErrGateway.
func (s *OrderService) CreateOrder(ctx context.Context) (*gateway.Order, error) {
	receipt := "receipt_" + xid.New().String()

	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   s.price,
		Currency: money.Currency,
		Receipt:  receipt,
	})
	if err != nil {
		s.logger.Error("failed to create order",
			slog.String("receipt", receipt),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Gateway("failed to create order", err.Error())
	}

	s.logger.Info("order created",
		slog.String("orderID", order.ID),
		slog.String("receipt", receipt),
	)
	return order, nil
}
