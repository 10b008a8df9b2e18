package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// RegistryClient talks to the remote artifact registry.
type RegistryClient struct {
	base string
	http *http.Client
}

// NewRegistryClient constructs a client for the given base URL.
func NewRegistryClient(base string) *RegistryClient {
	return &RegistryClient{base: base, http: newHTTPClient()}
}

// EnsureRepository creates the repository when missing and returns its URI.
func (c *RegistryClient) EnsureRepository(ctx context.Context, name string) (string, error) {
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	var resp struct {
		URI string `json:"uri"`
	}
	if err := doJSON(ctx, c.http, http.MethodPost, c.base+"/v1/repositories", body, &resp); err != nil {
		return "", fmt.Errorf("ensure repository %s: %w", name, err)
	}
	return resp.URI, nil
}

// ImageExists reports whether the tagged image is present in the registry.
func (c *RegistryClient) ImageExists(ctx context.Context, name, tag string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/repositories/%s/images/%s", c.base, url.PathEscape(name), url.PathEscape(tag))
	err := doJSON(ctx, c.http, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check image %s:%s: %w", name, tag, err)
	}
	return true, nil
}
