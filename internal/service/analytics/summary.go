package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ozonbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Summarize turns raw sales into per-product and total profitability.
// Unit costs are matched by product id first, then by offer id; a product
// without a cost counts as free, so its ROI stays zero.
func Summarize(period Period, sales []domain.ProductSales, costs []domain.ProductCost, feePercent float64) domain.Summary {
	byID := make(map[int64]decimal.Decimal, len(costs))
	byOffer := make(map[string]decimal.Decimal, len(costs))
	for _, c := range costs {
		unit := decimal.NewFromFloat(c.Cost)
		if c.ProductID != 0 {
			byID[c.ProductID] = unit
		}
		if c.OfferID != "" {
			byOffer[c.OfferID] = unit
		}
	}
	feeRate := decimal.NewFromFloat(feePercent).Div(hundred)

	var totalRev, totalFees, totalCost decimal.Decimal
	var units int64
	products := make([]domain.ProductMetrics, 0, len(sales))
	revenues := make([]decimal.Decimal, 0, len(sales))
	for _, s := range sales {
		unit, ok := byID[s.ProductID]
		if !ok {
			unit = byOffer[s.OfferID]
		}
		rev := decimal.NewFromFloat(s.Revenue)
		fees := rev.Mul(feeRate)
		cost := unit.Mul(decimal.NewFromInt(s.Units))
		profit := rev.Sub(fees).Sub(cost)

		totalRev = totalRev.Add(rev)
		totalFees = totalFees.Add(fees)
		totalCost = totalCost.Add(cost)
		units += s.Units

		revenues = append(revenues, rev)
		products = append(products, domain.ProductMetrics{
			ProductID: s.ProductID,
			OfferID:   s.OfferID,
			Name:      s.Name,
			Revenue:   money(rev),
			Units:     s.Units,
			Cost:      money(cost),
			Fees:      money(fees),
			Profit:    money(profit),
			Margin:    percent(profit, rev),
			ROI:       percent(profit, cost),
		})
	}
	classify(products, revenues, totalRev)

	totalProfit := totalRev.Sub(totalFees).Sub(totalCost)
	return domain.Summary{
		Period:   string(period),
		Revenue:  money(totalRev),
		Fees:     money(totalFees),
		Cost:     money(totalCost),
		Profit:   money(totalProfit),
		Margin:   percent(totalProfit, totalRev),
		ROI:      percent(totalProfit, totalCost),
		Units:    units,
		Products: products,
	}
}

// classify sorts products by revenue and assigns ABC classes in place.
func classify(products []domain.ProductMetrics, revenues []decimal.Decimal, total decimal.Decimal) {
	idx := make([]int, len(products))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if c := revenues[idx[a]].Cmp(revenues[idx[b]]); c != 0 {
			return c > 0
		}
		return products[idx[a]].ProductID < products[idx[b]].ProductID
	})

	sorted := make([]domain.ProductMetrics, len(products))
	cum := decimal.Zero
	for pos, i := range idx {
		p := products[i]
		switch share := shareOf(cum, total); {
		case total.IsZero():
			p.Class = domain.ClassC
		case share.LessThan(decimal.NewFromInt(80)):
			p.Class = domain.ClassA
		case share.LessThan(decimal.NewFromInt(95)):
			p.Class = domain.ClassB
		default:
			p.Class = domain.ClassC
		}
		cum = cum.Add(revenues[i])
		sorted[pos] = p
	}
	copy(products, sorted)
}

func shareOf(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(total)
}

// Top returns the product with the highest profit.
func Top(s domain.Summary) (domain.ProductMetrics, bool) {
	if len(s.Products) == 0 {
		return domain.ProductMetrics{}, false
	}
	best := s.Products[0]
	for _, p := range s.Products[1:] {
		if p.Profit > best.Profit {
			best = p
		}
	}
	return best, true
}

// ClassCounts reports how many products fell into each ABC class.
func ClassCounts(s domain.Summary) (a, b, c uint32) {
	for _, p := range s.Products {
		switch p.Class {
		case domain.ClassA:
			a++
		case domain.ClassB:
			b++
		default:
			c++
		}
	}
	return a, b, c
}

func NewSnapshot(telegramID int64, takenAt time.Time, s domain.Summary) domain.Snapshot {
	snap := domain.Snapshot{
		TelegramID: telegramID,
		TakenAt:    takenAt.UTC(),
		Period:     s.Period,
		Revenue:    s.Revenue,
		Profit:     s.Profit,
		Margin:     s.Margin,
		ROI:        s.ROI,
	}
	snap.ClassA, snap.ClassB, snap.ClassC = ClassCounts(s)
	if top, ok := Top(s); ok {
		snap.TopProductID = top.ProductID
		snap.TopProductName = top.Name
		snap.TopProfit = top.Profit
	}
	return snap
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func percent(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Mul(hundred).Div(whole).Round(2).InexactFloat64()
}
