package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/events"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

// OrderItemInput описывает позицию заказа в запросе. Цена в основных единицах валюты.
type OrderItemInput struct {
	ProductID string           `json:"productId,omitempty"`
	Name      string           `json:"name"`
	Price     model.FlexNumber `json:"price"`
	Quantity  model.FlexNumber `json:"quantity"`
	ImageURL  string           `json:"imageUrl,omitempty"`
	Option    string           `json:"option,omitempty"`
	Note      string           `json:"note,omitempty"`
}

// OrderShippingInput описывает выбранный покупателем тариф доставки.
type OrderShippingInput struct {
	SelectedRateID string `json:"selectedRateId,omitempty"`
	ShipmentID     string `json:"shipmentId,omitempty"`
}

// CreateOrderRequest содержит запрос на создание заказа.
type CreateOrderRequest struct {
	Items    []OrderItemInput    `json:"items"`
	Customer model.Address       `json:"customer"`
	Shipping *OrderShippingInput `json:"shipping,omitempty"`
}

// CreateOrder создаёт заказ в статусе pending и возвращает его.
func (s *Service) CreateOrder(ctx context.Context, identity model.Identity, storeID string, req CreateOrderRequest) (*model.Order, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "Missing storeId.")
	}

	items := normalizeOrderItems(req.Items)
	if len(items) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "Order must contain items.")
	}

	customer, ok := validation.NormalizeAddress(req.Customer, validation.AddressBilling)
	if !ok {
		return nil, apperr.New(apperr.InvalidArgument, "Invalid shipping address.")
	}

	if _, err := s.loadStore(ctx, storeID); err != nil {
		return nil, err
	}

	o := &model.Order{
		ID:       uuid.NewString(),
		StoreID:  storeID,
		UserID:   identity.UserID,
		Items:    items,
		Customer: customer,
		Status:   model.OrderStatusPending,
	}
	if req.Shipping != nil {
		o.Shipping.SelectedRateID = strings.TrimSpace(req.Shipping.SelectedRateID)
		o.Shipping.ShipmentID = strings.TrimSpace(req.Shipping.ShipmentID)
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, repository.ErrStoreNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "Store not found.", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Unable to create order.", err)
	}

	e := events.New(events.TypeOrderCreated, storeID, s.now())
	e.OrderID = o.ID
	e.UserID = o.UserID
	e.Data = map[string]any{"itemCount": len(o.Items)}
	s.publish(ctx, e)

	return o, nil
}

// UpdateOrderStatus меняет статус заказа. Доступно администраторам и сотрудникам магазина.
func (s *Service) UpdateOrderStatus(ctx context.Context, identity model.Identity, storeID, orderID string, status model.OrderStatus) error {
	storeID = strings.TrimSpace(storeID)
	orderID = strings.TrimSpace(orderID)

	if err := requireStoreMember(identity, storeID); err != nil {
		return err
	}
	if identity.Role != model.RoleAdmin && identity.Role != model.RoleStaff {
		return apperr.New(apperr.PermissionDenied, "Staff access required.")
	}
	if orderID == "" || !status.Valid() {
		return apperr.New(apperr.InvalidArgument, "Missing orderId or status.")
	}

	if err := s.repo.UpdateOrderStatus(ctx, storeID, orderID, status); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return apperr.Wrap(apperr.NotFound, "Order not found.", err)
		}
		return apperr.Wrap(apperr.Internal, "Unable to update order.", err)
	}

	e := events.New(events.TypeOrderStatusChanged, storeID, s.now())
	e.OrderID = orderID
	e.UserID = identity.UserID
	e.Data = map[string]any{"status": string(status)}
	s.publish(ctx, e)

	return nil
}

func normalizeOrderItems(raw []OrderItemInput) []model.OrderItem {
	items := make([]model.OrderItem, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		price, err := validation.ToMinorUnits(r.Price)
		if err != nil || price < 0 {
			continue
		}
		qty, err := validation.ClampQuantity(r.Quantity)
		if err != nil {
			continue
		}
		items = append(items, model.OrderItem{
			ProductID: strings.TrimSpace(r.ProductID),
			Name:      name,
			UnitPrice: price,
			Quantity:  qty,
			ImageURL:  validation.NormalizeImageURL(r.ImageURL),
			Option:    strings.TrimSpace(r.Option),
			Note:      strings.TrimSpace(r.Note),
		})
	}
	return items
}
