package analytics

import (
	"context"
	"math"

	"ozonbot/internal/domain"
)

const placeholderImage = "https://via.placeholder.com/150"

type demoProduct struct {
	id            int64
	offerID       string
	name          string
	price         float64
	monthlyUnits  int64
	suggestedCost float64
}

var demoCatalog = []demoProduct{
	{id: 123456, offerID: "TEST-001", name: "Тестовый товар 1", price: 1500, monthlyUnits: 28, suggestedCost: 700},
	{id: 123457, offerID: "TEST-002", name: "Тестовый товар 2", price: 2500, monthlyUnits: 16, suggestedCost: 1500},
	{id: 123458, offerID: "TEST-003", name: "Тестовый товар 3", price: 3500, monthlyUnits: 8, suggestedCost: 2600},
}

// Demo serves fixed fixtures for placeholder credentials.
type Demo struct{}

func (Demo) Sales(_ context.Context, _ domain.Credential, period Period) ([]domain.ProductSales, error) {
	out := make([]domain.ProductSales, 0, len(demoCatalog))
	for _, p := range demoCatalog {
		units := int64(math.Ceil(float64(p.monthlyUnits) * period.months()))
		out = append(out, domain.ProductSales{
			ProductID: p.id,
			OfferID:   p.offerID,
			Name:      p.name,
			Revenue:   p.price * float64(units),
			Units:     units,
		})
	}
	return out, nil
}

func (Demo) Products(context.Context, domain.Credential) ([]Product, error) {
	out := make([]Product, 0, len(demoCatalog))
	for _, p := range demoCatalog {
		out = append(out, Product{
			ProductID: p.id,
			Name:      p.name,
			OfferID:   p.offerID,
			Price:     p.price,
			Images:    []string{placeholderImage},
		})
	}
	return out, nil
}

func (Demo) Finance(_ context.Context, _ domain.Credential, period Period) (Finance, error) {
	k := period.months()
	return Finance{
		Period:                  string(period),
		AccrualsForSale:         math.Round(24500 * k),
		SaleCommission:          -math.Round(3675 * k),
		ProcessingAndDelivery:   -math.Round(1850 * k),
		RefundsAndCancellations: -math.Round(400 * k),
		ServicesAmount:          -math.Round(2200 * k),
		CompensationAmount:      0,
		MoneyTransfer:           0,
		OthersAmount:            0,
	}, nil
}

// DemoCosts is the unit cost list demo users start with.
func DemoCosts() []domain.ProductCost {
	out := make([]domain.ProductCost, 0, len(demoCatalog))
	for _, p := range demoCatalog {
		out = append(out, domain.ProductCost{ProductID: p.id, OfferID: p.offerID, Cost: p.suggestedCost})
	}
	return out
}
