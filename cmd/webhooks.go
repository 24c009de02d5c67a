package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/boardcast/internal/config"
	"github.com/boardcast/internal/webhook"
	"github.com/boardcast/pkg/models"
)

// WebhooksCommand returns the webhooks command for inspecting upstream
// registrations and exercising the receiver.
func WebhooksCommand() *cli.Command {
	return &cli.Command{
		Name:  "webhooks",
		Usage: "Inspect and repair Trello webhook registrations",
		Flags: clientFlags(),
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List webhook registrations known to the server",
				Action: runWebhooksList,
			},
			{
				Name:   "reconcile",
				Usage:  "Force a registration reconcile pass now",
				Action: runWebhooksReconcile,
			},
			{
				Name:      "test",
				Usage:     "Send a signed synthetic event to a receiver",
				ArgsUsage: "BOARD_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Usage: "Receiver URL (defaults to the configured callback URL)",
					},
				},
				Action: runWebhooksTest,
			},
		},
	}
}

func runWebhooksList(c *cli.Context) error {
	client, err := newAdminClient(c)
	if err != nil {
		return err
	}

	var resp struct {
		Registrations []models.WebhookRegistration `json:"registrations"`
		Count         int                          `json:"count"`
	}
	if err := client.do("GET", "/api/v1/registrations", nil, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No webhook registrations")
		return nil
	}
	for _, r := range resp.Registrations {
		fmt.Printf("board %s -> webhook %s (%s)\n", r.BoardID, r.ExternalWebhookID, r.CallbackURL)
	}
	return nil
}

func runWebhooksReconcile(c *cli.Context) error {
	client, err := newAdminClient(c)
	if err != nil {
		return err
	}

	if err := client.do("POST", "/api/v1/reconcile", nil, nil); err != nil {
		return err
	}
	fmt.Println("Reconcile complete")
	return nil
}

// runWebhooksTest posts a synthetic createCard delivery, signed the way
// Trello signs real ones, at a running receiver. Useful for smoke-testing a
// deployment end to end without touching a real board.
func runWebhooksTest(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: webhooks test BOARD_ID")
	}
	boardID := c.Args().Get(0)

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Trello.WebhookSecret == "" {
		return fmt.Errorf("trello webhook_secret is not configured")
	}

	targetURL := c.String("url")
	if targetURL == "" {
		targetURL = cfg.CallbackURL()
	}

	body, err := json.Marshal(syntheticEvent(boardID))
	if err != nil {
		return fmt.Errorf("failed to build test event: %w", err)
	}

	// The signature covers the configured callback URL, exactly as Trello
	// computes it, so the receiver's verification path is truly exercised.
	signature := webhook.Sign(body, cfg.CallbackURL(), cfg.Trello.WebhookSecret)

	req, err := http.NewRequest("POST", targetURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, signature)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send test event: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Receiver responded %d: %s\n", resp.StatusCode, string(respBody))
	return nil
}

func syntheticEvent(boardID string) map[string]any {
	return map[string]any{
		"action": map[string]any{
			"id":   uuid.NewString(),
			"type": "createCard",
			"date": time.Now().UTC().Format(time.RFC3339Nano),
			"memberCreator": map[string]any{
				"username": "boardcast",
				"fullName": "Boardcast Test",
			},
			"data": map[string]any{
				"board": map[string]any{"id": boardID, "name": "Test Board"},
				"card":  map[string]any{"id": uuid.NewString(), "name": "Synthetic test card"},
				"list":  map[string]any{"id": uuid.NewString(), "name": "Inbox"},
			},
		},
		"model": map[string]any{"id": boardID, "name": "Test Board"},
	}
}
