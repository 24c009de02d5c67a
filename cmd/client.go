package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/boardcast/internal/config"
)

// adminClient calls the admin API of a running boardcast instance. The
// operator commands (mappings, webhooks) are thin wrappers over it so
// configuration changes always go through the server, where cache
// invalidation and webhook reconciliation hang off the write path.
type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newAdminClient builds a client from flags, falling back to the config
// file for the port and admin token.
func newAdminClient(c *cli.Context) (*adminClient, error) {
	baseURL := c.String("server")
	token := c.String("token")

	if baseURL == "" || token == "" {
		cfg, err := config.LoadConfig(c.String("config"))
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if baseURL == "" {
			baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		if token == "" {
			token = cfg.Server.AdminToken
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no admin token: set server.admin_token in the config or pass --token")
	}

	return &adminClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// do performs one admin API call and decodes the JSON response into out
// when out is non-nil.
func (a *adminClient) do(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Admin-Token", a.token)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", a.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// clientFlags are shared by every command that talks to a running server.
func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "server",
			Usage: "Base URL of the running boardcast server",
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "Admin API token (defaults to server.admin_token from the config)",
		},
	}
}
