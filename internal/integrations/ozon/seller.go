package ozon

import (
	"context"
	"strconv"
	"time"
)

type ProductRef struct {
	ProductID int64  `json:"product_id"`
	OfferID   string `json:"offer_id"`
}

type ProductInfo struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	OfferID      string   `json:"offer_id"`
	Price        string   `json:"price"`
	OldPrice     string   `json:"old_price"`
	CurrencyCode string   `json:"currency_code"`
	PrimaryImage []string `json:"primary_image"`
	Images       []string `json:"images"`
}

// ListProducts pages through /v3/product/list. limit caps the total.
func (c *Client) ListProducts(ctx context.Context, auth Auth, limit int) ([]ProductRef, error) {
	if limit <= 0 {
		limit = 1000
	}
	out := make([]ProductRef, 0, 64)
	lastID := ""
	for len(out) < limit {
		page := limit - len(out)
		if page > 1000 {
			page = 1000
		}
		req := map[string]interface{}{
			"filter":  map[string]string{"visibility": "ALL"},
			"last_id": lastID,
			"limit":   page,
		}
		var resp struct {
			Result struct {
				Items  []ProductRef `json:"items"`
				Total  int          `json:"total"`
				LastID string       `json:"last_id"`
			} `json:"result"`
		}
		if err := c.post(ctx, auth, "/v3/product/list", req, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Result.Items...)
		if len(resp.Result.Items) == 0 || resp.Result.LastID == "" || resp.Result.LastID == lastID {
			break
		}
		lastID = resp.Result.LastID
	}
	return out, nil
}

func (c *Client) ProductInfo(ctx context.Context, auth Auth, productIDs []int64) ([]ProductInfo, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var resp struct {
		Items []ProductInfo `json:"items"`
	}
	err := c.post(ctx, auth, "/v3/product/info/list", map[string]interface{}{"product_id": productIDs}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type SalesRow struct {
	SKU     int64
	Name    string
	Revenue float64
	Units   int64
}

// SalesBySKU reads revenue and ordered units per sku from /v1/analytics/data.
func (c *Client) SalesBySKU(ctx context.Context, auth Auth, from, to time.Time) ([]SalesRow, error) {
	var out []SalesRow
	offset := 0
	const pageSize = 1000
	for {
		req := map[string]interface{}{
			"date_from": from.Format("2006-01-02"),
			"date_to":   to.Format("2006-01-02"),
			"metrics":   []string{"revenue", "ordered_units"},
			"dimension": []string{"sku"},
			"limit":     pageSize,
			"offset":    offset,
		}
		var resp struct {
			Result struct {
				Data []struct {
					Dimensions []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"dimensions"`
					Metrics []float64 `json:"metrics"`
				} `json:"data"`
			} `json:"result"`
		}
		if err := c.post(ctx, auth, "/v1/analytics/data", req, &resp); err != nil {
			return nil, err
		}
		for _, d := range resp.Result.Data {
			if len(d.Dimensions) == 0 {
				continue
			}
			sku, err := strconv.ParseInt(d.Dimensions[0].ID, 10, 64)
			if err != nil {
				continue
			}
			row := SalesRow{SKU: sku, Name: d.Dimensions[0].Name}
			if len(d.Metrics) > 0 {
				row.Revenue = d.Metrics[0]
			}
			if len(d.Metrics) > 1 {
				row.Units = int64(d.Metrics[1])
			}
			out = append(out, row)
		}
		if len(resp.Result.Data) < pageSize {
			return out, nil
		}
		offset += pageSize
	}
}

type FinanceTotals struct {
	AccrualsForSale         float64 `json:"accruals_for_sale"`
	SaleCommission          float64 `json:"sale_commission"`
	ProcessingAndDelivery   float64 `json:"processing_and_delivery"`
	RefundsAndCancellations float64 `json:"refunds_and_cancellations"`
	ServicesAmount          float64 `json:"services_amount"`
	CompensationAmount      float64 `json:"compensation_amount"`
	MoneyTransfer           float64 `json:"money_transfer"`
	OthersAmount            float64 `json:"others_amount"`
}

func (c *Client) FinanceTotals(ctx context.Context, auth Auth, from, to time.Time) (FinanceTotals, error) {
	req := map[string]interface{}{
		"date": map[string]string{
			"from": from.UTC().Format(time.RFC3339),
			"to":   to.UTC().Format(time.RFC3339),
		},
		"transaction_type": "all",
	}
	var resp struct {
		Result FinanceTotals `json:"result"`
	}
	if err := c.post(ctx, auth, "/v3/finance/transaction/totals", req, &resp); err != nil {
		return FinanceTotals{}, err
	}
	return resp.Result, nil
}
