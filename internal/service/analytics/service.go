package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ozonbot/internal/domain"
	"ozonbot/internal/integrations/ozon"
	"ozonbot/internal/store"
)

// Product is the frontend product card.
type Product struct {
	ProductID int64    `json:"product_id"`
	Name      string   `json:"name"`
	OfferID   string   `json:"offer_id"`
	Price     float64  `json:"price"`
	Images    []string `json:"images"`
}

type Finance struct {
	Period                  string  `json:"period"`
	AccrualsForSale         float64 `json:"accruals_for_sale"`
	SaleCommission          float64 `json:"sale_commission"`
	ProcessingAndDelivery   float64 `json:"processing_and_delivery"`
	RefundsAndCancellations float64 `json:"refunds_and_cancellations"`
	ServicesAmount          float64 `json:"services_amount"`
	CompensationAmount      float64 `json:"compensation_amount"`
	MoneyTransfer           float64 `json:"money_transfer"`
	OthersAmount            float64 `json:"others_amount"`
}

// Source is where marketplace data comes from: Ozon itself or fixtures.
type Source interface {
	Sales(ctx context.Context, cred domain.Credential, period Period) ([]domain.ProductSales, error)
	Products(ctx context.Context, cred domain.Credential) ([]Product, error)
	Finance(ctx context.Context, cred domain.Credential, period Period) (Finance, error)
}

// Marketplace is the part of the Ozon client the live source needs.
type Marketplace interface {
	ListProducts(ctx context.Context, auth ozon.Auth, limit int) ([]ozon.ProductRef, error)
	ProductInfo(ctx context.Context, auth ozon.Auth, productIDs []int64) ([]ozon.ProductInfo, error)
	SalesBySKU(ctx context.Context, auth ozon.Auth, from, to time.Time) ([]ozon.SalesRow, error)
	FinanceTotals(ctx context.Context, auth ozon.Auth, from, to time.Time) (ozon.FinanceTotals, error)
}

// Live reads from the Seller API. Errors are returned as is so callers can
// map upstream statuses.
type Live struct {
	client       Marketplace
	productLimit int
	now          func() time.Time
	logger       *zap.Logger
}

func NewLive(client Marketplace, logger *zap.Logger) *Live {
	return &Live{client: client, productLimit: 1000, now: time.Now, logger: logger}
}

func auth(cred domain.Credential) ozon.Auth {
	return ozon.Auth{ClientID: cred.ClientID, APIKey: cred.APIToken}
}

func (l *Live) Sales(ctx context.Context, cred domain.Credential, period Period) ([]domain.ProductSales, error) {
	from, to := period.Range(l.now())
	rows, err := l.client.SalesBySKU(ctx, auth(cred), from, to)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductSales, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ProductSales{ProductID: r.SKU, Name: r.Name, Revenue: r.Revenue, Units: r.Units})
	}
	return out, nil
}

func (l *Live) Products(ctx context.Context, cred domain.Credential) ([]Product, error) {
	refs, err := l.client.ListProducts(ctx, auth(cred), l.productLimit)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ProductID)
	}
	infos, err := l.client.ProductInfo(ctx, auth(cred), ids)
	if err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(infos))
	for _, info := range infos {
		images := info.PrimaryImage
		if len(images) == 0 {
			images = info.Images
		}
		p := Product{
			ProductID: info.ID,
			Name:      info.Name,
			OfferID:   info.OfferID,
			Images:    images,
		}
		if info.Price != "" {
			price, err := decimal.NewFromString(info.Price)
			if err != nil {
				l.logger.Warn("unparsable product price", zap.Int64("product_id", info.ID), zap.String("price", info.Price), zap.Error(err))
			} else {
				p.Price = price.InexactFloat64()
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (l *Live) Finance(ctx context.Context, cred domain.Credential, period Period) (Finance, error) {
	from, to := period.Range(l.now())
	t, err := l.client.FinanceTotals(ctx, auth(cred), from, to)
	if err != nil {
		return Finance{}, err
	}
	return Finance{
		Period:                  string(period),
		AccrualsForSale:         t.AccrualsForSale,
		SaleCommission:          t.SaleCommission,
		ProcessingAndDelivery:   t.ProcessingAndDelivery,
		RefundsAndCancellations: t.RefundsAndCancellations,
		ServicesAmount:          t.ServicesAmount,
		CompensationAmount:      t.CompensationAmount,
		MoneyTransfer:           t.MoneyTransfer,
		OthersAmount:            t.OthersAmount,
	}, nil
}

// Service picks the source per credential and applies the owner's costs.
type Service struct {
	live       Source
	demo       Source
	costs      store.CostStore
	feePercent float64
	demoMode   bool
	logger     *zap.Logger
}

func NewService(live Source, costs store.CostStore, feePercent float64, demoMode bool, logger *zap.Logger) *Service {
	return &Service{live: live, demo: Demo{}, costs: costs, feePercent: feePercent, demoMode: demoMode, logger: logger}
}

// IsDemo reports whether cred is served from fixtures.
func (s *Service) IsDemo(cred domain.Credential) bool {
	return s.demoMode || cred.IsPlaceholder() || s.live == nil
}

func (s *Service) source(cred domain.Credential) Source {
	if s.IsDemo(cred) {
		return s.demo
	}
	return s.live
}

func (s *Service) Products(ctx context.Context, cred domain.Credential) ([]Product, error) {
	return s.source(cred).Products(ctx, cred)
}

func (s *Service) Finance(ctx context.Context, cred domain.Credential, period Period) (Finance, error) {
	return s.source(cred).Finance(ctx, cred, period)
}

// Summary computes profitability for the period using the costs stored
// under owner. Demo users without costs get the demo cost list.
func (s *Service) Summary(ctx context.Context, cred domain.Credential, owner string, period Period) (domain.Summary, error) {
	sales, err := s.source(cred).Sales(ctx, cred, period)
	if err != nil {
		return domain.Summary{}, err
	}
	costs, err := s.costs.ListCosts(ctx, owner)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("list costs: %w", err)
	}
	if len(costs) == 0 && s.IsDemo(cred) {
		costs = DemoCosts()
	}
	summary := Summarize(period, sales, costs, s.feePercent)
	s.logger.Debug("summary computed",
		zap.String("owner", owner),
		zap.String("period", string(period)),
		zap.Int("products", len(summary.Products)),
	)
	return summary, nil
}
