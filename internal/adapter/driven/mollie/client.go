// Package mollie implements the ProviderClient port for the Mollie v2 REST API.
package mollie

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/feesync/internal/adapter/driven/pspclient"
	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

const (
	DefaultBaseURL  = "https://api.mollie.com/v2"
	DefaultTokenURL = "https://api.mollie.com/oauth2/tokens"

	// listPageSize is the maximum page size of the payments list endpoint.
	listPageSize = 250
)

// Compile-time interface satisfaction check.
var _ driven.ProviderClient = (*Client)(nil)

// Config holds the endpoints and OAuth application for the Mollie client.
// Empty URLs fall back to the production defaults.
type Config struct {
	BaseURL string
	OAuth   pspclient.OAuthConfig
}

// Client implements driven.ProviderClient against the Mollie API.
type Client struct {
	baseURL    string
	oauth      pspclient.OAuthConfig
	transports *pspclient.Transports
	now        func() time.Time
}

// NewClient creates a Mollie client that draws per-account HTTP clients from transports.
func NewClient(cfg Config, transports *pspclient.Transports) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.OAuth.TokenURL == "" {
		cfg.OAuth.TokenURL = DefaultTokenURL
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		oauth:      cfg.OAuth,
		transports: transports,
		now:        time.Now,
	}
}

// Provider returns model.ProviderMollie.
func (c *Client) Provider() model.Provider {
	return model.ProviderMollie
}

// FetchTransaction retrieves a payment. Mollie does not report a per-payment
// fee, so the returned fact carries the settlement id and fee category the
// caller needs to price it from the settlement's rate table.
func (c *Client) FetchTransaction(ctx context.Context, cred model.Credential, id string) (model.TransactionFact, error) {
	var p paymentJSON
	if err := c.get(ctx, cred, "/payments/"+url.PathEscape(id), nil, &p); err != nil {
		return model.TransactionFact{}, fmt.Errorf("fetch mollie payment %s: %w", id, err)
	}

	fact, err := p.toFact()
	if err != nil {
		return model.TransactionFact{}, fmt.Errorf("map mollie payment %s: %w", id, err)
	}
	return fact, nil
}

// FetchSettlement retrieves a settlement and flattens the rates of its cost
// lines into a table keyed by cost description.
func (c *Client) FetchSettlement(ctx context.Context, cred model.Credential, settlementID string) (model.SettlementFact, error) {
	var s settlementJSON
	if err := c.get(ctx, cred, "/settlements/"+url.PathEscape(settlementID), nil, &s); err != nil {
		return model.SettlementFact{}, fmt.Errorf("fetch mollie settlement %s: %w", settlementID, err)
	}

	fact, err := s.toFact()
	if err != nil {
		return model.SettlementFact{}, fmt.Errorf("map mollie settlement %s: %w", settlementID, err)
	}
	return fact, nil
}

// RefreshCredential performs the OAuth refresh grant against the Mollie token endpoint.
func (c *Client) RefreshCredential(ctx context.Context, cred model.Credential) (model.Credential, error) {
	return pspclient.RefreshCredential(ctx, c.transports.Plain(), c.oauth, cred, c.now())
}

// ListTransactions pages through the payments list, newest first, and returns
// the payments created within [from, to]. Paging stops at the first page that
// reaches past from.
func (c *Client) ListTransactions(ctx context.Context, cred model.Credential, from, to time.Time) ([]model.TransactionFact, error) {
	query := url.Values{"limit": {fmt.Sprint(listPageSize)}}
	next := c.endpoint(cred, "/payments", query)

	var facts []model.TransactionFact
	for page := 1; next != ""; page++ {
		var list paymentListJSON
		if err := pspclient.GetJSON(ctx, c.transports.Client(cred.Key()), model.ProviderMollie, next, cred.KeyMaterial, &list); err != nil {
			return nil, fmt.Errorf("list mollie payments (page %d): %w", page, err)
		}

		reachedFrom := false
		for _, p := range list.Embedded.Payments {
			fact, err := p.toFact()
			if err != nil {
				return nil, fmt.Errorf("map mollie payment %s: %w", p.ID, err)
			}
			if fact.CreatedAt.Before(from) {
				reachedFrom = true
				continue
			}
			if fact.CreatedAt.After(to) {
				continue
			}
			facts = append(facts, fact)
		}

		if reachedFrom || list.Links.Next == nil {
			break
		}
		next = list.Links.Next.Href
	}

	return facts, nil
}

func (c *Client) get(ctx context.Context, cred model.Credential, path string, query url.Values, out any) error {
	return pspclient.GetJSON(ctx, c.transports.Client(cred.Key()), model.ProviderMollie,
		c.endpoint(cred, path, query), cred.KeyMaterial, out)
}

// endpoint builds an API URL. OAuth access tokens reach both live and test
// data, so test mode must be requested explicitly.
func (c *Client) endpoint(cred model.Credential, path string, query url.Values) string {
	if cred.Mode == model.AuthModeOAuth && cred.TestMode {
		if query == nil {
			query = url.Values{}
		}
		query.Set("testmode", "true")
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
