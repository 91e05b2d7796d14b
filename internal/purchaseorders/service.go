package purchaseorders

import (
	"context"
	"fmt"

	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/google/uuid"
)

// Service exposes the purchase order detail read.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("purchase order repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.PurchaseOrder, error) {
	po, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase order")
	}
	if po == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "purchase order not found")
	}
	return po, nil
}
