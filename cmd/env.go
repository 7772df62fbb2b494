package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/blob"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/internal/validate"
	"github.com/sells-group/campaign-cli/pkg/dialer"
	"github.com/sells-group/campaign-cli/pkg/enrich"
)

// openStore builds the configured store driver. Callers own Close.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL, cfg.Store.MaxBatchSize)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool, cfg.Store.MaxBatchSize)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openBlob(ctx context.Context) (blob.Storage, error) {
	switch cfg.Blob.Driver {
	case "local", "":
		return blob.NewLocal(cfg.Blob.Dir)
	case "minio":
		return blob.NewMinio(ctx, cfg.Blob.Minio)
	default:
		return nil, eris.Errorf("unknown blob driver %q", cfg.Blob.Driver)
	}
}

func newDialerClient() (*dialer.Client, error) {
	if cfg.Dialer.BaseURL == "" {
		return nil, eris.New("dialer base URL is required (CAMPAIGN_DIALER_BASE_URL)")
	}
	if cfg.Dialer.APIKey == "" {
		return nil, eris.New("dialer API key is required (CAMPAIGN_DIALER_API_KEY)")
	}
	return dialer.NewClient(cfg.Dialer.BaseURL, cfg.Dialer.Username, cfg.Dialer.APIKey), nil
}

func newEnrichClient() (*enrich.Client, enrich.TokenProvider, error) {
	tokens, err := enrich.NewAzureTokenProvider(
		cfg.Customer.TenantID,
		cfg.Customer.ClientID,
		cfg.Customer.ClientSecret,
		cfg.Customer.Resource,
	)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Customer.BaseURL == "" {
		return nil, nil, eris.New("customer API base URL is required (CAMPAIGN_CUSTOMER_BASE_URL)")
	}
	return enrich.NewClient(cfg.Customer.BaseURL, tokens), tokens, nil
}

// newOrchestrator wires the validation orchestrator from config. The token
// preflight fails a job up front when the Azure credentials are bad, instead
// of failing every record.
func newOrchestrator(st store.Store) (*validate.Orchestrator, error) {
	client, tokens, err := newEnrichClient()
	if err != nil {
		return nil, err
	}
	cfgV := validate.Config{
		RequestsPerSecond: cfg.Validate.RequestsPerSecond,
		ProgressEvery:     cfg.Validate.ProgressEvery,
		MaxBatchSize:      cfg.Store.MaxBatchSize,
		Preflight: func(ctx context.Context) error {
			_, err := tokens.Token(ctx)
			return err
		},
	}
	return validate.NewOrchestrator(st, client, validate.NewRegistry(), cfgV), nil
}

// toDialerCampaign converts a platform campaign into its cached form.
func toDialerCampaign(c dialer.Campaign, fetchedAt time.Time) store.DialerCampaign {
	cached := store.DialerCampaign{
		ID:            c.ID,
		FullData:      c.Raw,
		LastFetchedAt: fetchedAt,
	}
	if c.Name != "" {
		cached.Name = &c.Name
	}
	if c.Description != "" {
		cached.Description = &c.Description
	}
	if c.Status != "" {
		cached.Status = &c.Status
	}
	return cached
}

func sweepTimeout() time.Duration {
	return time.Duration(cfg.Validate.SweepTimeoutSecs) * time.Second
}

func sweepInterval() time.Duration {
	return time.Duration(cfg.Validate.SweepIntervalSecs) * time.Second
}
