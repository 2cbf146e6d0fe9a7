// Package insights computes derived spending summaries for the UI.
// All aggregation is pure computation over one store read.
package insights

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/store"
)

// DefaultWindowDays is the summary window when the caller does not pick one.
const DefaultWindowDays = 90

const (
	topMerchantLimit = 10
	anomalyLimit     = 5
	anomalyFactor    = 3
)

// mccNames maps the merchant category codes we classify to display names.
// Anything else falls into "Other".
var mccNames = map[string]string{
	"4111": "Transit",
	"4814": "Telecom",
	"5311": "Department Stores",
	"5411": "Groceries",
	"5541": "Fuel",
	"5812": "Restaurants",
	"5912": "Pharmacies",
	"5999": "Retail",
	"6011": "Cash Withdrawal",
	"7995": "Gambling",
}

// Summary is the aggregate view over a customer's recent spend.
type Summary struct {
	CustomerID    string          `json:"customer_id"`
	WindowDays    int             `json:"window_days"`
	TotalSpend    int64           `json:"total_spend"`
	Count         int             `json:"transaction_count"`
	AverageAmount int64           `json:"average_amount"`
	TopMerchants  []MerchantTotal `json:"top_merchants"`
	Categories    []CategoryTotal `json:"categories"`
	MonthlyTrend  []MonthTotal    `json:"monthly_trend"`
	Anomalies     []Anomaly       `json:"anomalies"`
}

// MerchantTotal is one merchant's aggregate, largest spend first.
type MerchantTotal struct {
	Merchant string `json:"merchant"`
	Total    int64  `json:"total"`
	Count    int    `json:"count"`
}

// CategoryTotal is one MCC category's aggregate.
type CategoryTotal struct {
	MCC   string `json:"mcc"`
	Name  string `json:"name"`
	Total int64  `json:"total"`
	Count int    `json:"count"`
}

// MonthTotal is one calendar month's aggregate, oldest first.
type MonthTotal struct {
	Month string `json:"month"` // YYYY-MM
	Total int64  `json:"total"`
	Count int    `json:"count"`
}

// Anomaly flags a transaction whose amount dwarfs the window average.
type Anomaly struct {
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	Amount        int64     `json:"amount"`
	Merchant      string    `json:"merchant"`
	Factor        float64   `json:"factor"` // amount / window average
}

// Service answers summary queries.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Summarize aggregates the customer's transactions over the trailing
// window. days <= 0 selects the default window. An unknown customer
// yields an empty summary, not an error.
func (s *Service) Summarize(ctx context.Context, customerID string, days int) (*Summary, error) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	since := time.Now().AddDate(0, 0, -days)
	txns, err := s.store.TransactionsSince(ctx, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("insights: fetch transactions: %w", err)
	}
	return build(customerID, days, txns), nil
}

func build(customerID string, days int, txns []domain.Transaction) *Summary {
	sum := &Summary{
		CustomerID:   customerID,
		WindowDays:   days,
		Count:        len(txns),
		TopMerchants: []MerchantTotal{},
		Categories:   []CategoryTotal{},
		MonthlyTrend: []MonthTotal{},
		Anomalies:    []Anomaly{},
	}
	if len(txns) == 0 {
		return sum
	}

	merchants := make(map[string]*MerchantTotal)
	categories := make(map[string]*CategoryTotal)
	months := make(map[string]*MonthTotal)

	for _, t := range txns {
		sum.TotalSpend += t.Amount

		m := merchants[t.Merchant]
		if m == nil {
			m = &MerchantTotal{Merchant: t.Merchant}
			merchants[t.Merchant] = m
		}
		m.Total += t.Amount
		m.Count++

		name, ok := mccNames[t.MCC]
		key := t.MCC
		if !ok {
			name, key = "Other", "other"
		}
		c := categories[key]
		if c == nil {
			c = &CategoryTotal{MCC: key, Name: name}
			categories[key] = c
		}
		c.Total += t.Amount
		c.Count++

		month := t.Timestamp.Format("2006-01")
		mo := months[month]
		if mo == nil {
			mo = &MonthTotal{Month: month}
			months[month] = mo
		}
		mo.Total += t.Amount
		mo.Count++
	}

	sum.AverageAmount = sum.TotalSpend / int64(sum.Count)

	for _, m := range merchants {
		sum.TopMerchants = append(sum.TopMerchants, *m)
	}
	sort.Slice(sum.TopMerchants, func(i, j int) bool {
		a, b := sum.TopMerchants[i], sum.TopMerchants[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Merchant < b.Merchant
	})
	if len(sum.TopMerchants) > topMerchantLimit {
		sum.TopMerchants = sum.TopMerchants[:topMerchantLimit]
	}

	for _, c := range categories {
		sum.Categories = append(sum.Categories, *c)
	}
	sort.Slice(sum.Categories, func(i, j int) bool {
		a, b := sum.Categories[i], sum.Categories[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.MCC < b.MCC
	})

	for _, mo := range months {
		sum.MonthlyTrend = append(sum.MonthlyTrend, *mo)
	}
	sort.Slice(sum.MonthlyTrend, func(i, j int) bool {
		return sum.MonthlyTrend[i].Month < sum.MonthlyTrend[j].Month
	})

	threshold := anomalyFactor * sum.AverageAmount
	avg := float64(sum.AverageAmount)
	for _, t := range txns {
		if t.Amount > threshold {
			sum.Anomalies = append(sum.Anomalies, Anomaly{
				TransactionID: t.ID,
				Timestamp:     t.Timestamp,
				Amount:        t.Amount,
				Merchant:      t.Merchant,
				Factor:        float64(t.Amount) / avg,
			})
		}
	}
	sort.Slice(sum.Anomalies, func(i, j int) bool {
		return sum.Anomalies[i].Amount > sum.Anomalies[j].Amount
	})
	if len(sum.Anomalies) > anomalyLimit {
		sum.Anomalies = sum.Anomalies[:anomalyLimit]
	}
	return sum
}
