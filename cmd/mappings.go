package cmd

import (
	"fmt"
	"net/url"

	"github.com/urfave/cli/v2"

	"github.com/boardcast/pkg/models"
)

// MappingsCommand returns the mappings command for inspecting and editing
// channel-to-board mappings on a running server.
func MappingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "mappings",
		Usage: "Manage channel-to-board mappings",
		Flags: clientFlags(),
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all channel mappings",
				Action: runMappingsList,
			},
			{
				Name:      "set",
				Usage:     "Map a channel to a board",
				ArgsUsage: "GUILD_ID CHANNEL_ID BOARD_ID [LIST_ID]",
				Action:    runMappingsSet,
			},
			{
				Name:      "remove",
				Usage:     "Remove a channel's mapping",
				ArgsUsage: "GUILD_ID CHANNEL_ID",
				Action:    runMappingsRemove,
			},
			{
				Name:      "set-default",
				Usage:     "Set the fallback board for unmapped channels",
				ArgsUsage: "BOARD_ID [LIST_ID]",
				Action:    runMappingsSetDefault,
			},
			{
				Name:   "clear-default",
				Usage:  "Clear the fallback board",
				Action: runMappingsClearDefault,
			},
		},
	}
}

func mappingPath(guildID, channelID string) string {
	return "/api/v1/mappings/" + url.PathEscape(guildID) + "/" + url.PathEscape(channelID)
}

func runMappingsList(c *cli.Context) error {
	client, err := newAdminClient(c)
	if err != nil {
		return err
	}

	var resp struct {
		Mappings []models.ChannelMapping `json:"mappings"`
		Count    int                     `json:"count"`
	}
	if err := client.do("GET", "/api/v1/mappings", nil, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No mappings configured")
		return nil
	}
	for _, m := range resp.Mappings {
		if m.ListID != "" {
			fmt.Printf("%s/%s -> board %s (list %s)\n", m.GuildID, m.ChannelID, m.BoardID, m.ListID)
		} else {
			fmt.Printf("%s/%s -> board %s\n", m.GuildID, m.ChannelID, m.BoardID)
		}
	}
	return nil
}

func runMappingsSet(c *cli.Context) error {
	if c.NArg() < 3 {
		return fmt.Errorf("usage: mappings set GUILD_ID CHANNEL_ID BOARD_ID [LIST_ID]")
	}
	client, err := newAdminClient(c)
	if err != nil {
		return err
	}

	payload := map[string]string{
		"board_id": c.Args().Get(2),
		"list_id":  c.Args().Get(3),
	}

	var resp struct {
		Validated bool   `json:"validated"`
		Warning   string `json:"warning"`
	}
	if err := client.do("PUT", mappingPath(c.Args().Get(0), c.Args().Get(1)), payload, &resp); err != nil {
		return err
	}

	fmt.Println("Mapping saved")
	if resp.Warning != "" {
		fmt.Printf("Warning: %s\n", resp.Warning)
	}
	return nil
}

func runMappingsRemove(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: mappings remove GUILD_ID CHANNEL_ID")
	}
	client, err := newAdminClient(c)
	if err != nil {
		return err
	}

	if err := client.do("DELETE", mappingPath(c.Args().Get(0), c.Args().Get(1)), nil, nil); err != nil {
		return err
	}
	fmt.Println("Mapping removed")
	return nil
}

func runMappingsSetDefault(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: mappings set-default BOARD_ID [LIST_ID]")
	}
	client, err := newAdminClient(c)
	if err != nil {
		return err
	}

	payload := map[string]string{
		"board_id": c.Args().Get(0),
		"list_id":  c.Args().Get(1),
	}

	var resp struct {
		Validated bool   `json:"validated"`
		Warning   string `json:"warning"`
	}
	if err := client.do("PUT", "/api/v1/default-mapping", payload, &resp); err != nil {
		return err
	}

	fmt.Println("Default mapping set")
	if resp.Warning != "" {
		fmt.Printf("Warning: %s\n", resp.Warning)
	}
	return nil
}

func runMappingsClearDefault(c *cli.Context) error {
	client, err := newAdminClient(c)
	if err != nil {
		return err
	}

	if err := client.do("DELETE", "/api/v1/default-mapping", nil, nil); err != nil {
		return err
	}
	fmt.Println("Default mapping cleared")
	return nil
}
