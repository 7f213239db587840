// Package sumup implements the ProviderClient port for the SumUp v0.1 REST API.
package sumup

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/feesync/internal/adapter/driven/pspclient"
	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

const (
	DefaultBaseURL  = "https://api.sumup.com/v0.1"
	DefaultTokenURL = "https://api.sumup.com/token"

	historyPageSize = 100
)

// Compile-time interface satisfaction check.
var _ driven.ProviderClient = (*Client)(nil)

// Config holds the endpoints and OAuth application for the SumUp client.
// Empty URLs fall back to the production defaults.
type Config struct {
	BaseURL string
	OAuth   pspclient.OAuthConfig
}

// Client implements driven.ProviderClient against the SumUp API.
type Client struct {
	baseURL    string
	oauth      pspclient.OAuthConfig
	transports *pspclient.Transports
	now        func() time.Time
}

// NewClient creates a SumUp client that draws per-account HTTP clients from transports.
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

// Provider returns model.ProviderSumUp.
func (c *Client) Provider() model.Provider {
	return model.ProviderSumUp
}

// FetchTransaction looks a transaction up by transaction code, or by id when
// the identifier is a UUID. The fee comes from its payout event.
func (c *Client) FetchTransaction(ctx context.Context, cred model.Credential, id string) (model.TransactionFact, error) {
	query := url.Values{}
	if _, err := uuid.Parse(id); err == nil {
		query.Set("id", id)
	} else {
		query.Set("transaction_code", id)
	}

	var tx transactionJSON
	rawURL := c.baseURL + "/me/transactions?" + query.Encode()
	if err := pspclient.GetJSON(ctx, c.transports.Client(cred.Key()), model.ProviderSumUp, rawURL, cred.KeyMaterial, &tx); err != nil {
		return model.TransactionFact{}, fmt.Errorf("fetch sumup transaction %s: %w", id, err)
	}
	if tx.ID == "" && tx.TransactionCode == "" {
		return model.TransactionFact{}, fmt.Errorf("fetch sumup transaction %s: empty body: %w", id, model.ErrNotFound)
	}

	fact, err := tx.toFact()
	if err != nil {
		return model.TransactionFact{}, fmt.Errorf("map sumup transaction %s: %w", id, err)
	}
	return fact, nil
}

// FetchSettlement is not offered by SumUp; payouts carry the fee per transaction.
func (c *Client) FetchSettlement(_ context.Context, _ model.Credential, settlementID string) (model.SettlementFact, error) {
	return model.SettlementFact{}, fmt.Errorf("fetch sumup settlement %s: %w", settlementID, model.ErrUnsupported)
}

// RefreshCredential performs the OAuth refresh grant against the SumUp token endpoint.
func (c *Client) RefreshCredential(ctx context.Context, cred model.Credential) (model.Credential, error) {
	return pspclient.RefreshCredential(ctx, c.transports.Plain(), c.oauth, cred, c.now())
}

// ListTransactions pages through the transaction history between from and to.
// History items carry no payout events, so the returned facts have no fee.
func (c *Client) ListTransactions(ctx context.Context, cred model.Credential, from, to time.Time) ([]model.TransactionFact, error) {
	historyURL := c.baseURL + "/me/transactions/history"
	query := url.Values{
		"oldest_time": {from.UTC().Format(time.RFC3339)},
		"newest_time": {to.UTC().Format(time.RFC3339)},
		"limit":       {fmt.Sprint(historyPageSize)},
		"order":       {"descending"},
	}
	next := historyURL + "?" + query.Encode()

	var facts []model.TransactionFact
	for page := 1; next != ""; page++ {
		var history historyJSON
		if err := pspclient.GetJSON(ctx, c.transports.Client(cred.Key()), model.ProviderSumUp, next, cred.KeyMaterial, &history); err != nil {
			return nil, fmt.Errorf("list sumup transactions (page %d): %w", page, err)
		}

		for _, item := range history.Items {
			fact, err := item.toFact()
			if err != nil {
				return nil, fmt.Errorf("map sumup transaction %s: %w", item.TransactionCode, err)
			}
			if fact.CreatedAt.Before(from) || fact.CreatedAt.After(to) {
				continue
			}
			facts = append(facts, fact)
		}

		next = history.nextURL(historyURL)
	}

	return facts, nil
}
