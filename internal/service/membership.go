package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/repository"
)

// MembershipView описывает членство пользователя с признаком действующего доступа.
type MembershipView struct {
	StoreID    string                 `json:"storeId"`
	UserID     string                 `json:"userId"`
	AccessType model.AccessType       `json:"accessType"`
	Status     model.MembershipStatus `json:"status"`
	AccessEnd  *time.Time             `json:"accessEnd"`
	PlanType   string                 `json:"planType"`
	HasAccess  bool                   `json:"hasAccess"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// GetMembership возвращает членство вызывающего в магазине.
func (s *Service) GetMembership(ctx context.Context, identity model.Identity, storeID string) (*MembershipView, error) {
	storeID = strings.TrimSpace(storeID)
	if err := requireStoreMember(identity, storeID); err != nil {
		return nil, err
	}

	m, err := s.repo.GetMembership(ctx, storeID, identity.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "Membership not found.", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Unable to load membership.", err)
	}

	return &MembershipView{
		StoreID:    m.StoreID,
		UserID:     m.UserID,
		AccessType: m.AccessType,
		Status:     m.Status,
		AccessEnd:  m.AccessEnd,
		PlanType:   m.PlanType,
		HasAccess:  m.HasAccess(s.now()),
		UpdatedAt:  m.UpdatedAt,
	}, nil
}
