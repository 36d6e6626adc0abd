package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pauldest/newsdigest/config"
)

func feedsCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage the feed registry",
	}

	loadRegistry := func(c *cobra.Command) (*config.FeedRegistry, error) {
		feedsPath, _ := c.Flags().GetString("feeds")
		return config.LoadFeeds(feedsPath)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List feeds in registry order",
		RunE: func(c *cobra.Command, args []string) error {
			reg, err := loadRegistry(c)
			if err != nil {
				return err
			}
			for i, f := range reg.List() {
				state := "enabled"
				if !f.Enabled {
					state = "disabled"
				}
				fmt.Printf("%2d. [%s] %s (%s) %s\n", i+1, state, f.Name, f.Category, f.URL)
			}
			return nil
		},
	}

	var category string
	add := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			reg, err := loadRegistry(c)
			if err != nil {
				return err
			}
			return reg.Add(args[0], args[1], category)
		},
	}
	add.Flags().StringVar(&category, "category", "uncategorized", "feed category")

	remove := &cobra.Command{
		Use:   "remove <name-or-url>",
		Short: "Remove a feed by exact name or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			reg, err := loadRegistry(c)
			if err != nil {
				return err
			}
			return reg.Remove(args[0])
		},
	}

	enable := &cobra.Command{
		Use:   "enable <name-or-url>",
		Short: "Enable a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			reg, err := loadRegistry(c)
			if err != nil {
				return err
			}
			return reg.SetEnabled(args[0], true)
		},
	}

	disable := &cobra.Command{
		Use:   "disable <name-or-url>",
		Short: "Disable a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			reg, err := loadRegistry(c)
			if err != nil {
				return err
			}
			return reg.SetEnabled(args[0], false)
		},
	}

	validate := &cobra.Command{
		Use:   "validate <url>",
		Short: "Fetch and parse a feed URL without mutating the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
			defer cancel()
			if err := config.ValidateFeedURL(ctx, args[0]); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}

	cmd.AddCommand(list, add, remove, enable, disable, validate)
	return cmd
}
