// Package github provides functionality for interacting with the GitHub API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/config"
	"github.com/danielolaszy/feedbacksync/internal/logging"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

const recentDeliveries = 30

// Client encapsulates the GitHub API client.
type Client struct {
	client  *github.Client
	timeout time.Duration
}

// APIURL returns the REST endpoint for a GitHub domain. Anything other than
// github.com is treated as GitHub Enterprise Server.
func APIURL(domain string) string {
	if domain == "" || domain == "github.com" {
		return "https://api.github.com/"
	}
	return fmt.Sprintf("https://%s/api/v3/", domain)
}

// NewClient creates a GitHub API client authenticated with the configured token.
func NewClient(cfg config.GitHubConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token not found in configuration")
	}

	apiURL := APIURL(cfg.Domain)
	logging.Info("github configuration",
		"domain", cfg.Domain,
		"api_url", apiURL,
		"token", logging.MaskSensitive(cfg.Token))

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	return NewClientWithHTTP(tc, apiURL, cfg.Timeout)
}

// NewClientWithHTTP creates a client on top of an existing HTTP client and
// API base URL.
func NewClientWithHTTP(httpClient *http.Client, apiURL string, timeout time.Duration) (*Client, error) {
	client := github.NewClient(httpClient)

	if apiURL != "" && apiURL != "https://api.github.com/" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		parsedURL, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url: %w", err)
		}
		client.BaseURL = parsedURL
		client.UploadURL = parsedURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{client: client, timeout: timeout}, nil
}

// Ping verifies the token by fetching the authenticated user.
func (c *Client) Ping(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	user, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		logging.Error("failed to test github token", "error", err)
		return "", apperr.External(fmt.Errorf("error testing github token: %w", err))
	}
	logging.Info("github authentication successful", "username", user.GetLogin())
	return user.GetLogin(), nil
}

// CloseIssue closes an issue in a repository of the form "owner/repo".
// The call is bounded by the client timeout and by ctx.
func (c *Client) CloseIssue(ctx context.Context, repository, externalIssueID string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}
	number, err := strconv.Atoi(externalIssueID)
	if err != nil {
		return fmt.Errorf("invalid issue number %q: %w", externalIssueID, apperr.ErrInvalidPayload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logging.Debug("closing github issue", "repository", repository, "issue_number", number)

	_, resp, err := c.client.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{
		State: github.String(string(models.IssueClosed)),
	})
	if err != nil {
		logging.Error("failed to close github issue",
			"repository", repository,
			"issue_number", number,
			"status_code", statusCode(resp),
			"error", err)
		return apperr.External(fmt.Errorf("failed to close issue %s#%d: %w", repository, number, err))
	}

	logging.Info("closed github issue", "repository", repository, "issue_number", number)
	return nil
}

// ListHookDeliveries returns the most recent deliveries of a repository
// webhook, newest first.
func (c *Client) ListHookDeliveries(ctx context.Context, repository string, hookID int64) ([]models.DeliveryRecord, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	deliveries, resp, err := c.client.Repositories.ListHookDeliveries(ctx, owner, repo, hookID, &github.ListCursorOptions{
		PerPage: recentDeliveries,
	})
	if err != nil {
		logging.Error("failed to list hook deliveries",
			"repository", repository,
			"hook_id", hookID,
			"status_code", statusCode(resp),
			"error", err)
		return nil, apperr.External(fmt.Errorf("failed to list deliveries for hook %d: %w", hookID, err))
	}

	result := make([]models.DeliveryRecord, 0, len(deliveries))
	for _, d := range deliveries {
		result = append(result, models.DeliveryRecord{
			ID:             d.GetID(),
			GUID:           d.GetGUID(),
			Event:          d.GetEvent(),
			Timestamp:      d.GetDeliveredAt().Time.UTC(),
			ResponseStatus: d.GetStatusCode(),
			Redelivery:     d.GetRedelivery(),
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	logging.Debug("retrieved hook deliveries", "repository", repository, "hook_id", hookID, "count", len(result))
	return result, nil
}

// splitRepository parses "owner/repo".
func splitRepository(repository string) (string, string, error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format: %s, expected format: owner/repo", repository)
	}
	return parts[0], parts[1], nil
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
