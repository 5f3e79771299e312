package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"storefront-hq/payrelay/pkg/config"
	"storefront-hq/payrelay/pkg/registry"
	"storefront-hq/payrelay/pkg/security/auth"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage the proxy server registry",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configured proxy servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		servers, err := a.registry.GetAllServers(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tURL\tPRIORITY\tUSAGE\tCAPACITY\tACTIVE\tSELECTED")
		for _, srv := range servers {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%v\t%v\n",
				srv.ID, srv.Name, srv.URL, srv.Priority,
				srv.CurrentUsage.StringFixed(2), srv.CapacityLimit.StringFixed(2),
				srv.IsActive, srv.IsSelected,
			)
		}
		return w.Flush()
	},
}

var serversShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one proxy server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		srv, err := a.registry.GetServer(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Printf("ID:             %d\n", srv.ID)
		fmt.Printf("Name:           %s\n", srv.Name)
		fmt.Printf("URL:            %s\n", srv.URL)
		fmt.Printf("Priority:       %d\n", srv.Priority)
		fmt.Printf("Usage:          %s / %s\n", srv.CurrentUsage.StringFixed(2), srv.CapacityLimit.StringFixed(2))
		fmt.Printf("Active:         %v\n", srv.IsActive)
		fmt.Printf("Selected:       %v\n", srv.IsSelected)
		if !srv.LastUsed.IsZero() {
			fmt.Printf("Last used:      %s\n", srv.LastUsed.Format("2006-01-02 15:04:05"))
		}
		if srv.ProductIDPool != "" {
			fmt.Printf("Product pool:   %s\n", srv.ProductIDPool)
		}
		return nil
	},
}

var (
	addName        string
	addURL         string
	addAPIKey      string
	addAPISecret   string
	addCapacity    string
	addPriority    int
	addProductPool string
	addInactive    bool
)

var serversAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a proxy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		capacity, err := decimal.NewFromString(addCapacity)
		if err != nil {
			return fmt.Errorf("invalid --capacity %q: %w", addCapacity, err)
		}

		a, _, err := newAdminApp()
		if err != nil {
			return err
		}
		defer a.close()

		srv := &registry.Server{
			Name:          addName,
			URL:           addURL,
			APIKey:        addAPIKey,
			APISecret:     addAPISecret,
			CapacityLimit: capacity,
			Priority:      addPriority,
			ProductIDPool: addProductPool,
			IsActive:      !addInactive,
		}

		id, err := a.registry.AddServer(cmd.Context(), srv)
		if err != nil {
			return err
		}

		fmt.Printf("server %d added\n", id)
		return nil
	},
}

var serversUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a proxy server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, _, err := newAdminApp()
		if err != nil {
			return err
		}
		defer a.close()

		srv, err := a.registry.GetServer(cmd.Context(), id)
		if err != nil {
			return err
		}

		// Only apply flags the caller actually set.
		if cmd.Flags().Changed("name") {
			srv.Name = addName
		}
		if cmd.Flags().Changed("url") {
			srv.URL = addURL
		}
		if cmd.Flags().Changed("api-key") {
			srv.APIKey = addAPIKey
		}
		if cmd.Flags().Changed("api-secret") {
			srv.APISecret = addAPISecret
		}
		if cmd.Flags().Changed("capacity") {
			capacity, err := decimal.NewFromString(addCapacity)
			if err != nil {
				return fmt.Errorf("invalid --capacity %q: %w", addCapacity, err)
			}
			srv.CapacityLimit = capacity
		}
		if cmd.Flags().Changed("priority") {
			srv.Priority = addPriority
		}
		if cmd.Flags().Changed("product-pool") {
			srv.ProductIDPool = addProductPool
		}
		if cmd.Flags().Changed("inactive") {
			srv.IsActive = !addInactive
		}

		if err := a.registry.UpdateServer(cmd.Context(), srv); err != nil {
			return err
		}

		fmt.Printf("server %d updated\n", id)
		return nil
	},
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a proxy server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, _, err := newAdminApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.registry.DeleteServer(cmd.Context(), id); err != nil {
			return err
		}

		fmt.Printf("server %d removed\n", id)
		return nil
	},
}

var serversSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Pin the selection pointer to a server",
	Long: `Pin the selection pointer to a server. No capacity or activity check is
applied; if the server is over capacity the next checkout selection will
route around it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, _, err := newAdminApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.registry.SetSelectedServer(cmd.Context(), id); err != nil {
			return err
		}

		fmt.Printf("server %d selected\n", id)
		return nil
	},
}

var serversResetUsageCmd = &cobra.Command{
	Use:   "reset-usage <id>",
	Short: "Reset a server's usage counter to zero",
	Long: `Reset a server's cumulative usage to zero. This does not re-activate a
deactivated server; use "servers update --inactive=false" for that.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, _, err := newAdminApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.registry.ResetUsage(cmd.Context(), id); err != nil {
			return err
		}

		fmt.Printf("usage reset for server %d\n", id)
		return nil
	},
}

var serversNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Run checkout selection and print the chosen server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		srv, err := a.registry.GetNextAvailableServer(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("server %d (%s) at %s, usage %s / %s\n",
			srv.ID, srv.Name, srv.URL,
			srv.CurrentUsage.StringFixed(2), srv.CapacityLimit.StringFixed(2),
		)
		return nil
	},
}

// newAdminApp validates the admin key before wiring the app, so audit
// events carry the administrator's name as actor.
func newAdminApp() (*app, *auth.Admin, error) {
	if adminKey == "" {
		return nil, nil, fmt.Errorf("this command requires --admin-key")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	admin, err := auth.NewValidator(cfg.Auth.AdminKeys).Validate(adminKey)
	if err != nil {
		return nil, nil, fmt.Errorf("authorization failed: %w", err)
	}

	a, err := newApp(appOptions{actor: admin.Name})
	if err != nil {
		return nil, nil, err
	}
	return a, admin, nil
}

// parseID parses a server id argument.
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid server id %q", arg)
	}
	return id, nil
}

func init() {
	for _, cmd := range []*cobra.Command{serversAddCmd, serversUpdateCmd} {
		cmd.Flags().StringVar(&addName, "name", "", "human-readable server name")
		cmd.Flags().StringVar(&addURL, "url", "", "base endpoint address")
		cmd.Flags().StringVar(&addAPIKey, "api-key", "", "shared-secret API key")
		cmd.Flags().StringVar(&addAPISecret, "api-secret", "", "shared-secret API secret")
		cmd.Flags().StringVar(&addCapacity, "capacity", "", "monetary capacity limit")
		cmd.Flags().IntVar(&addPriority, "priority", 0, "selection priority (lower first)")
		cmd.Flags().StringVar(&addProductPool, "product-pool", "", "comma-separated remote product ids")
		cmd.Flags().BoolVar(&addInactive, "inactive", false, "create or mark the server inactive")
	}
	serversAddCmd.MarkFlagRequired("capacity")

	serversCmd.AddCommand(
		serversListCmd,
		serversShowCmd,
		serversAddCmd,
		serversUpdateCmd,
		serversRemoveCmd,
		serversSelectCmd,
		serversResetUsageCmd,
		serversNextCmd,
	)
	rootCmd.AddCommand(serversCmd)
}
