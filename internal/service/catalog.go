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

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	return products, persistenceErr(err)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:        xid.New("prd"),
		Name:      req.Name,
		Price:     req.Price,
		Stock:     req.Stock,
		Category:  req.Category,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Product{}, persistenceErr(err)
	}
	s.log.WithFields(logrus.Fields{"product_id": created.ID, "name": created.Name}).Info("product created")
	return *created, nil
}

func (s *Service) ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	materials, err := s.repo.ListRawMaterials(ctx)
	return materials, persistenceErr(err)
}

func (s *Service) CreateRawMaterial(ctx context.Context, req domain.RawMaterialCreateRequest) (domain.RawMaterial, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if err := s.validateRequest(req); err != nil {
		return domain.RawMaterial{}, err
	}
	if req.Stock.IsNegative() {
		return domain.RawMaterial{}, fmt.Errorf("%w: stock must not be negative", store.ErrInvalidRequest)
	}

	now := s.now()
	created, err := s.repo.CreateRawMaterial(ctx, domain.RawMaterial{
		ID:        xid.New("mat"),
		Name:      req.Name,
		Category:  req.Category,
		Stock:     req.Stock,
		Unit:      unitOrDefault(req.Unit),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.RawMaterial{}, persistenceErr(err)
	}
	s.log.WithFields(logrus.Fields{"raw_material_id": created.ID, "name": created.Name}).Info("raw material created")
	return *created, nil
}

func (s *Service) ListRecipes(ctx context.Context) ([]domain.RecipeLine, error) {
	recipes, err := s.repo.ListRecipes(ctx)
	return recipes, persistenceErr(err)
}

// CreateRecipe links a product to a raw material it consumes. Missing
// products or materials are a bad request here, not a missing resource.
func (s *Service) CreateRecipe(ctx context.Context, req domain.RecipeCreateRequest) (domain.Recipe, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.RawMaterialID = strings.TrimSpace(req.RawMaterialID)
	if err := s.validateRequest(req); err != nil {
		return domain.Recipe{}, err
	}
	if !req.QuantityNeeded.IsPositive() {
		return domain.Recipe{}, fmt.Errorf("%w: quantity_needed must be positive", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateRecipe(ctx, domain.Recipe{
		ID:             xid.New("rcp"),
		ProductID:      req.ProductID,
		RawMaterialID:  req.RawMaterialID,
		QuantityNeeded: req.QuantityNeeded,
		CreatedAt:      s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Recipe{}, fmt.Errorf("%w: %w", store.ErrInvalidRequest, err)
		}
		return domain.Recipe{}, persistenceErr(err)
	}
	return *created, nil
}

func (s *Service) DeleteRecipe(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrNotFound
	}
	return persistenceErr(s.repo.DeleteRecipe(ctx, id))
}

func unitOrDefault(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return domain.DefaultUnit
	}
	return unit
}
