package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
	"tehtarik/backend/internal/xid"
)

// RecordPurchase books a restock and adds its quantity to the raw material
// with the same name, creating the material when none matches.
func (s *Service) RecordPurchase(ctx context.Context, operatorID string, req domain.PurchaseRequest) (domain.Purchase, error) {
	req.ItemName = strings.TrimSpace(req.ItemName)
	req.Category = strings.TrimSpace(req.Category)
	if err := s.validateRequest(req); err != nil {
		return domain.Purchase{}, err
	}
	if !req.Quantity.IsPositive() {
		return domain.Purchase{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidRequest)
	}

	operator, err := s.resolveOperator(ctx, operatorID)
	if err != nil {
		return domain.Purchase{}, err
	}

	now := s.now()
	purchase := domain.Purchase{
		ID:          xid.New("pur"),
		ItemName:    req.ItemName,
		Category:    req.Category,
		Quantity:    req.Quantity,
		Unit:        strings.TrimSpace(req.Unit),
		TotalAmount: req.TotalAmount,
		CreatedBy:   operator.ID,
		CreatedAt:   now,
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindRawMaterialByName(ctx, req.ItemName)
		switch {
		case err == nil:
			if purchase.Unit == "" {
				purchase.Unit = existing.Unit
			}
			purchase.RawMaterialID = existing.ID
			if err := tx.IncrementRawMaterialStock(ctx, existing.ID, req.Quantity); err != nil {
				return err
			}
		case errors.Is(err, store.ErrNotFound):
			purchase.Unit = unitOrDefault(purchase.Unit)
			material := domain.RawMaterial{
				ID:        xid.New("mat"),
				Name:      req.ItemName,
				Category:  req.Category,
				Stock:     req.Quantity,
				Unit:      purchase.Unit,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.CreateRawMaterial(ctx, material); err != nil {
				return err
			}
			purchase.RawMaterialID = material.ID
		default:
			return err
		}
		return tx.CreatePurchase(ctx, purchase)
	})
	if err != nil {
		return domain.Purchase{}, persistenceErr(err)
	}

	s.log.WithFields(logrus.Fields{
		"purchase_id":     purchase.ID,
		"raw_material_id": purchase.RawMaterialID,
		"quantity":        purchase.Quantity.String(),
		"operator":        operator.ID,
	}).Info("purchase recorded")
	return purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	purchases, err := s.repo.ListPurchases(ctx, normalizeLimit(limit))
	if err != nil {
		return nil, persistenceErr(err)
	}
	return purchases, nil
}
