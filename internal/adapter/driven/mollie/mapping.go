package mollie

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// roundingCategory marks settlement cost lines that are accounting
// adjustments rather than prices.
const roundingCategory = "Rounding"

// cardCategories maps a card payment's details.feeRegion onto the settlement
// cost description that prices it.
var cardCategories = map[string]string{
	"carte-bancaire": "Credit card - Carte Bancaire",
	"intra-eu":       "Credit card - Domestic consumer cards",
	"eu-card":        "Credit card - Domestic consumer cards",
	"other":          "Credit card - Other",
}

// methodCategories maps non-card methods onto their settlement cost description.
var methodCategories = map[string]string{
	"ideal":        "iDEAL",
	"bancontact":   "Bancontact",
	"paypal":       "PayPal",
	"sofort":       "SOFORT Banking",
	"banktransfer": "Bank transfer",
	"applepay":     "Apple Pay",
	"kbc":          "KBC/CBC Payment Button",
	"belfius":      "Belfius Pay Button",
	"eps":          "EPS",
	"przelewy24":   "Przelewy24",
}

type amountJSON struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (a amountJSON) decimal() (decimal.Decimal, error) {
	if a.Value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(a.Value)
}

type linkJSON struct {
	Href string `json:"href"`
}

type paymentJSON struct {
	ID             string     `json:"id"`
	Mode           string     `json:"mode"`
	CreatedAt      string     `json:"createdAt"`
	PaidAt         string     `json:"paidAt"`
	Status         string     `json:"status"`
	Method         string     `json:"method"`
	Amount         amountJSON `json:"amount"`
	SettlementID   string     `json:"settlementId"`
	ApplicationFee *struct {
		Amount amountJSON `json:"amount"`
	} `json:"applicationFee"`
	Details struct {
		FeeRegion string `json:"feeRegion"`
		CardLabel string `json:"cardLabel"`
	} `json:"details"`
}

type paymentListJSON struct {
	Count    int `json:"count"`
	Embedded struct {
		Payments []paymentJSON `json:"payments"`
	} `json:"_embedded"`
	Links struct {
		Next *linkJSON `json:"next"`
	} `json:"_links"`
}

type settlementJSON struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	SettledAt string `json:"settledAt"`
	Status    string `json:"status"`
	// periods.{year}.{month}
	Periods map[string]map[string]struct {
		Costs []struct {
			Description string `json:"description"`
			Rate        *struct {
				Fixed      *amountJSON `json:"fixed"`
				Percentage string      `json:"percentage"`
			} `json:"rate"`
		} `json:"costs"`
	} `json:"periods"`
}

func (p paymentJSON) toFact() (model.TransactionFact, error) {
	gross, err := p.Amount.decimal()
	if err != nil {
		return model.TransactionFact{}, fmt.Errorf("parse amount: %w", err)
	}

	fact := model.TransactionFact{
		Provider:     model.ProviderMollie,
		ID:           p.ID,
		Gross:        gross,
		Currency:     strings.ToUpper(p.Amount.Currency),
		SettlementID: p.SettlementID,
		FeeCategory:  feeCategory(p.Method, p.Details.FeeRegion),
		Method:       p.Method,
		Status:       p.Status,
	}

	if p.ApplicationFee != nil {
		if fact.ApplicationFee, err = p.ApplicationFee.Amount.decimal(); err != nil {
			return model.TransactionFact{}, fmt.Errorf("parse application fee: %w", err)
		}
	}

	if p.CreatedAt != "" {
		if fact.CreatedAt, err = time.Parse(time.RFC3339, p.CreatedAt); err != nil {
			return model.TransactionFact{}, fmt.Errorf("parse createdAt: %w", err)
		}
		fact.CreatedAt = fact.CreatedAt.UTC()
	}

	return fact, nil
}

// feeCategory resolves the settlement cost description for a payment.
// Unknown methods fall back to the method name itself.
func feeCategory(method, feeRegion string) string {
	if method == "creditcard" {
		if c, ok := cardCategories[feeRegion]; ok {
			return c
		}
		return cardCategories["other"]
	}
	if c, ok := methodCategories[method]; ok {
		return c
	}
	return method
}

func (s settlementJSON) toFact() (model.SettlementFact, error) {
	fact := model.SettlementFact{
		Provider: model.ProviderMollie,
		ID:       s.ID,
		Rates:    make(map[string]model.FeeRate),
	}

	if s.SettledAt != "" {
		settled, err := time.Parse(time.RFC3339, s.SettledAt)
		if err != nil {
			return model.SettlementFact{}, fmt.Errorf("parse settledAt: %w", err)
		}
		settled = settled.UTC()
		fact.SettledAt = &settled
	}

	// Walk periods in chronological order so the latest rate for a category wins.
	for _, year := range numericKeys(s.Periods) {
		months := s.Periods[year]
		for _, month := range numericKeys(months) {
			for _, cost := range months[month].Costs {
				if cost.Rate == nil || cost.Description == "" || strings.Contains(cost.Description, roundingCategory) {
					continue
				}

				var rate model.FeeRate
				var err error
				if cost.Rate.Fixed != nil {
					if rate.Fixed, err = cost.Rate.Fixed.decimal(); err != nil {
						return model.SettlementFact{}, fmt.Errorf("parse fixed rate of %q: %w", cost.Description, err)
					}
				}
				if cost.Rate.Percentage != "" {
					if rate.Percentage, err = decimal.NewFromString(cost.Rate.Percentage); err != nil {
						return model.SettlementFact{}, fmt.Errorf("parse percentage rate of %q: %w", cost.Description, err)
					}
				}
				fact.Rates[cost.Description] = rate
			}
		}
	}

	return fact, nil
}

// numericKeys returns the keys of m ordered by their integer value. Keys that
// are not integers sort last, lexically.
func numericKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ai, aErr := strconv.Atoi(a)
		bi, bErr := strconv.Atoi(b)
		switch {
		case aErr == nil && bErr == nil:
			return ai - bi
		case aErr == nil:
			return -1
		case bErr == nil:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
	return keys
}
