package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store"
	"tehtarik/backend/internal/xid"
)

// ProcessSale records one checkout. The basket is checked against recipe
// stock up front, then checked again against locked rows inside a single
// unit of work that writes the sale and every stock decrement. Either all of
// it is persisted or none of it is.
func (s *Service) ProcessSale(ctx context.Context, operatorID string, req domain.SaleRequest) (domain.SaleTransaction, error) {
	if len(req.Lines) == 0 {
		return domain.SaleTransaction{}, fmt.Errorf("%w: basket is empty", store.ErrInvalidRequest)
	}
	if err := s.validateRequest(req); err != nil {
		return domain.SaleTransaction{}, err
	}

	operator, err := s.resolveOperator(ctx, operatorID)
	if err != nil {
		return domain.SaleTransaction{}, err
	}

	method := normalizePaymentMethod(req.PaymentMethod)
	productIDs := basketProductIDs(req.Lines)
	log := s.log.WithFields(logrus.Fields{"operator": operator.ID, "payment_method": method})

	var (
		products map[string]domain.Product
		recipes  map[string][]domain.RecipeLine
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.repo.GetProductsByIDs(gctx, productIDs)
		return err
	})
	g.Go(func() error {
		var err error
		recipes, err = s.repo.RecipesForProducts(gctx, productIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.SaleTransaction{}, persistenceErr(err)
	}

	plan, err := buildStockPlan(req.Lines, products, recipes)
	if err != nil {
		return domain.SaleTransaction{}, err
	}
	if err := plan.check(); err != nil {
		log.WithField("stage", "precheck").Info(err.Error())
		return domain.SaleTransaction{}, err
	}

	release, err := s.locker.Acquire(ctx, plan.lockKeys())
	if err != nil {
		return domain.SaleTransaction{}, fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
	defer release()

	sale := domain.SaleTransaction{
		ID:            xid.New("sal"),
		CreatedAt:     s.now(),
		PaymentMethod: method,
		CreatedBy:     operator.ID,
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		lockedProducts, err := tx.LockProducts(ctx, productIDs)
		if err != nil {
			return err
		}
		txRecipes, err := tx.RecipesForProducts(ctx, productIDs)
		if err != nil {
			return err
		}
		lockedMaterials, err := tx.LockRawMaterials(ctx, recipeMaterialIDs(txRecipes))
		if err != nil {
			return err
		}
		for _, lines := range txRecipes {
			for i := range lines {
				if m, ok := lockedMaterials[lines[i].RawMaterialID]; ok {
					lines[i].Material = m
				}
			}
		}

		fresh, err := buildStockPlan(req.Lines, lockedProducts, txRecipes)
		if err != nil {
			return err
		}
		if err := fresh.check(); err != nil {
			return err
		}

		sale.Lines, sale.TotalAmount, err = fresh.saleLines(sale.ID, log)
		if err != nil {
			return err
		}
		if err := tx.CreateSale(ctx, sale); err != nil {
			return err
		}
		for _, need := range fresh.products {
			if err := tx.DecrementProductStock(ctx, need.product.ID, need.qty); err != nil {
				return err
			}
		}
		for _, need := range fresh.materials {
			if err := tx.DecrementRawMaterialStock(ctx, need.material.ID, need.needed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = classifyCommitError(err)
		if errors.Is(err, store.ErrPersistence) {
			log.WithError(err).Error("sale commit failed")
		} else {
			log.WithField("stage", "commit").Info(err.Error())
		}
		return domain.SaleTransaction{}, err
	}

	if err := s.cache.Set(ctx, &sale, s.cacheTTL); err != nil {
		log.WithError(err).Warn("failed to cache sale")
	}
	log.WithFields(logrus.Fields{
		"sale_id": sale.ID,
		"total":   sale.TotalAmount,
		"lines":   len(sale.Lines),
	}).Info("sale recorded")

	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleTransaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleTransaction{}, store.ErrNotFound
	}
	if cached, ok, err := s.cache.Get(ctx, id); err != nil {
		s.log.WithError(err).WithField("sale_id", id).Warn("sale cache read failed")
	} else if ok {
		return *cached, nil
	}

	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleTransaction{}, persistenceErr(err)
	}
	if err := s.cache.Set(ctx, sale, s.cacheTTL); err != nil {
		s.log.WithError(err).WithField("sale_id", id).Warn("failed to cache sale")
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.SaleTransaction, error) {
	sales, err := s.repo.ListSales(ctx, normalizeLimit(limit))
	if err != nil {
		return nil, persistenceErr(err)
	}
	return sales, nil
}

// classifyCommitError maps what came out of the unit of work onto the
// caller-facing error kinds.
func classifyCommitError(err error) error {
	var shortfall *store.InsufficientStockError
	switch {
	case errors.As(err, &shortfall):
		return err
	case errors.Is(err, store.ErrInvalidRequest):
		return err
	case errors.Is(err, store.ErrStockConflict):
		return fmt.Errorf("%w: %w", store.ErrInsufficientStock, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", store.ErrInvalidRequest, err)
	default:
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
}

// Payment methods outside CASH/EWALLET/DEBIT are stored as given; the HTTP
// boundary is where the enumeration is enforced.
func normalizePaymentMethod(method domain.PaymentMethod) domain.PaymentMethod {
	m := strings.ToUpper(strings.TrimSpace(string(method)))
	if m == "" {
		return domain.PaymentCash
	}
	return domain.PaymentMethod(m)
}

func basketProductIDs(lines []domain.SaleLineRequest) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, strings.TrimSpace(line.ProductID))
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func recipeMaterialIDs(recipes map[string][]domain.RecipeLine) []string {
	ids := make([]string, 0)
	for _, lines := range recipes {
		for _, line := range lines {
			ids = append(ids, line.RawMaterialID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

type plannedLine struct {
	req     domain.SaleLineRequest
	product domain.Product
}

type productNeed struct {
	product domain.Product
	qty     int
}

type materialNeed struct {
	material domain.RawMaterial
	needed   decimal.Decimal
}

// stockPlan is what a basket takes out of stock. Needs are accumulated per
// product and per raw material, kept in order of first appearance.
type stockPlan struct {
	lines     []plannedLine
	products  []productNeed
	materials []materialNeed
}

func buildStockPlan(lines []domain.SaleLineRequest, products map[string]domain.Product, recipes map[string][]domain.RecipeLine) (stockPlan, error) {
	plan := stockPlan{lines: make([]plannedLine, 0, len(lines))}
	productIdx := make(map[string]int)
	materialIdx := make(map[string]int)

	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if line.Quantity <= 0 || line.Quantity > domain.MaxLineQuantity {
			return stockPlan{}, fmt.Errorf("%w: quantity for %s must be between 1 and %d", store.ErrInvalidRequest, id, domain.MaxLineQuantity)
		}
		product, ok := products[id]
		if !ok {
			return stockPlan{}, fmt.Errorf("%w: unknown product %s", store.ErrInvalidRequest, id)
		}
		plan.lines = append(plan.lines, plannedLine{req: line, product: product})

		if i, seen := productIdx[id]; seen {
			if plan.products[i].qty > domain.MaxLineQuantity-line.Quantity {
				return stockPlan{}, fmt.Errorf("%w: basket takes more than %d of %s", store.ErrInvalidRequest, domain.MaxLineQuantity, id)
			}
			plan.products[i].qty += line.Quantity
		} else {
			productIdx[id] = len(plan.products)
			plan.products = append(plan.products, productNeed{product: product, qty: line.Quantity})
		}

		qty := decimal.NewFromInt(int64(line.Quantity))
		for _, recipe := range recipes[id] {
			amount := recipe.QuantityNeeded.Mul(qty)
			if i, seen := materialIdx[recipe.RawMaterialID]; seen {
				plan.materials[i].needed = plan.materials[i].needed.Add(amount)
				continue
			}
			materialIdx[recipe.RawMaterialID] = len(plan.materials)
			plan.materials = append(plan.materials, materialNeed{material: recipe.Material, needed: amount})
		}
	}
	return plan, nil
}

// check reports the first shortfall. Raw materials are checked before
// product counters.
func (p stockPlan) check() error {
	for _, need := range p.materials {
		if need.material.Stock.LessThan(need.needed) {
			return &store.InsufficientStockError{
				Kind:      store.StockKindRawMaterial,
				ItemID:    need.material.ID,
				Name:      need.material.Name,
				Needed:    need.needed,
				Available: need.material.Stock,
				Unit:      need.material.Unit,
			}
		}
	}
	for _, need := range p.products {
		if need.product.Stock < need.qty {
			return &store.InsufficientStockError{
				Kind:      store.StockKindProduct,
				ItemID:    need.product.ID,
				Name:      need.product.Name,
				Needed:    decimal.NewFromInt(int64(need.qty)),
				Available: decimal.NewFromInt(int64(need.product.Stock)),
				Unit:      domain.DefaultUnit,
			}
		}
	}
	return nil
}

func (p stockPlan) lockKeys() []string {
	keys := make([]string, 0, len(p.products)+len(p.materials))
	for _, need := range p.products {
		keys = append(keys, "product:"+need.product.ID)
	}
	for _, need := range p.materials {
		keys = append(keys, "material:"+need.material.ID)
	}
	return keys
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// saleLines snapshots name and price from the catalog row. A client-sent
// price that disagrees with the catalog is logged and ignored. Amounts are
// summed as decimals so a subtotal or total that cannot be stored is
// rejected instead of wrapping.
func (p stockPlan) saleLines(saleID string, log logrus.FieldLogger) ([]domain.SaleLine, int64, error) {
	lines := make([]domain.SaleLine, 0, len(p.lines))
	total := decimal.Zero
	for _, pl := range p.lines {
		if pl.req.UnitPrice != 0 && pl.req.UnitPrice != pl.product.Price {
			log.WithFields(logrus.Fields{
				"product_id":   pl.product.ID,
				"client_price": pl.req.UnitPrice,
				"price":        pl.product.Price,
			}).Warn("client price differs from catalog, using catalog price")
		}
		subtotal := decimal.NewFromInt(pl.product.Price).Mul(decimal.NewFromInt(int64(pl.req.Quantity)))
		total = total.Add(subtotal)
		if subtotal.IsNegative() || total.GreaterThan(maxAmount) {
			return nil, 0, fmt.Errorf("%w: sale total out of range", store.ErrInvalidRequest)
		}
		lines = append(lines, domain.SaleLine{
			ID:            xid.New("sln"),
			TransactionID: saleID,
			ProductID:     pl.product.ID,
			ProductName:   pl.product.Name,
			Quantity:      pl.req.Quantity,
			UnitPrice:     pl.product.Price,
			Subtotal:      subtotal.IntPart(),
		})
	}
	return lines, total.IntPart(), nil
}
