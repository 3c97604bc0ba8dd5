package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
)

const (
	baseURL = "https://api.github.com"
)

// ErrNotFound is returned when the pull request or repository no longer exists.
var ErrNotFound = errors.New("github: not found")

// Client provides methods to interact with the GitHub API.
type Client struct {
	httpClient *http.Client
	appID      int64
	privateKey []byte
	baseURL    string

	// transport builds the round tripper for an installation. Overridden in tests.
	transport func(installationID int64) (http.RoundTripper, error)
}

// NewClient creates a new GitHub API client.
// The privateKey should be the PEM-encoded private key of the GitHub App.
func NewClient(appID int64, privateKey []byte) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		appID:      appID,
		privateKey: privateKey,
		baseURL:    baseURL,
	}
	c.transport = func(installationID int64) (http.RoundTripper, error) {
		return ghinstallation.New(http.DefaultTransport, c.appID, installationID, c.privateKey)
	}
	return c
}

// getInstallationClient returns an HTTP client authenticated for the given installation.
func (c *Client) getInstallationClient(installationID int64) (*http.Client, error) {
	transport, err := c.transport(installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation transport: %w", err)
	}
	return &http.Client{Transport: transport, Timeout: c.httpClient.Timeout}, nil
}

// GetPullRequest fetches a pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, installationID int64, owner, repo string, prNumber int) (*PullRequest, error) {
	client, err := c.getInstallationClient(installationID)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, owner, repo, prNumber)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to fetch pull request: status %d, body: %s", resp.StatusCode, string(body))
	}

	var pr PullRequest
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode pull request: %w", err)
	}

	return &pr, nil
}

// IsPullRequestOpen reports whether a pull request is still open and unmerged.
// A deleted pull request or repository counts as not open.
func (c *Client) IsPullRequestOpen(ctx context.Context, installationID int64, owner, repo string, prNumber int) (bool, error) {
	pr, err := c.GetPullRequest(ctx, installationID, owner, repo, prNumber)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pr.IsOpen(), nil
}
