package identity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/spec-kit/research-auth/internal/domain"
)

// NewRemoteKeys returns the provider's published signing keys. Keys are
// cached and refetched when a token names a kid the cache does not hold;
// concurrent misses share one fetch. Fetches run under ctx, so it should
// live as long as the process.
func NewRemoteKeys(ctx context.Context, jwksURL string, client *http.Client) *oidc.RemoteKeySet {
	if client == nil {
		client = http.DefaultClient
	}
	keysClient := *client
	keysClient.Transport = providerTransport{base: client.Transport}
	return oidc.NewRemoteKeySet(oidc.ClientContext(ctx, &keysClient), jwksURL)
}

// providerTransport marks transport failures and non-2xx answers from the
// provider as ErrProviderCommunication.
type providerTransport struct {
	base http.RoundTripper
}

func (t providerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderCommunication, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s", domain.ErrProviderCommunication, req.URL.Host, resp.Status)
	}
	return resp, nil
}
