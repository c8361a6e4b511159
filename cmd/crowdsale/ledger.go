package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/app"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/scheduler"
)

var (
	eventsAfter uint64
	eventsLimit int
	eventsJSON  bool
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account balance commands",
}

var accountBalancesCmd = &cobra.Command{
	Use:   "balances <account>",
	Short: "Show every balance of an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountBalances,
}

var accountFundCmd = &cobra.Command{
	Use:   "fund <account> <asset> <amount>",
	Short: "Mint an amount of an asset into an account",
	Args:  cobra.ExactArgs(3),
	RunE:  runAccountFund,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the lifecycle event log",
	RunE:  runEvents,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics",
	RunE:  runStats,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler scan",
	Long: `Scan every campaign once and apply the transitions that are due:
activate started campaigns, expire or finish ended ones.`,
	RunE: runTick,
}

func init() {
	eventsCmd.Flags().Uint64Var(&eventsAfter, "after", 0, "Only events with a greater sequence number")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "Maximum number of events to show")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "Print one JSON object per line")

	accountCmd.AddCommand(accountBalancesCmd, accountFundCmd)
	rootCmd.AddCommand(accountCmd, eventsCmd, statsCmd, tickCmd)
}

func runAccountBalances(cmd *cobra.Command, args []string) error {
	who, err := account.Parse(args[0])
	if err != nil {
		return err
	}

	db, _, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	balances, err := db.Balances(ctx, who)
	if err != nil {
		return fmt.Errorf("failed to read balances: %w", err)
	}
	holds, err := db.Holds(ctx, who)
	if err != nil {
		return fmt.Errorf("failed to read holds: %w", err)
	}

	fmt.Printf("Account: %s\n", who)
	fmt.Printf("Holds:   %d\n\n", holds)

	if len(balances) == 0 {
		fmt.Println("No balances")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tAMOUNT")
	fmt.Fprintln(w, "-----\t------")
	for _, b := range balances {
		fmt.Fprintf(w, "%s\t%s\n", b.ID, b.Amount)
	}
	w.Flush()

	return nil
}

func runAccountFund(cmd *cobra.Command, args []string) error {
	who, err := account.Parse(args[0])
	if err != nil {
		return err
	}
	id, err := asset.ParseID(args[1])
	if err != nil {
		return err
	}
	amount, err := asset.ParseBalance(args[2])
	if err != nil {
		return err
	}

	db, _, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	value := asset.New(id, amount)
	if err := db.Mint(context.Background(), who, value); err != nil {
		return fmt.Errorf("failed to fund account: %w", err)
	}

	fmt.Printf("Credited %s to %s\n", value, who)
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	db, _, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.Events(context.Background(), eventsAfter, eventsLimit)
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}

	if eventsJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	if len(events) == 0 {
		fmt.Println("No events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tKIND\tCAMPAIGN\tDETAIL")
	fmt.Fprintln(w, "---\t----\t----\t--------\t------")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			ev.Seq,
			ev.Time.Format(time.RFC3339),
			ev.Kind,
			truncateID(ev.CampaignID.String()),
			eventDetail(ev),
		)
	}
	w.Flush()

	return nil
}

// eventDetail renders the optional account and asset of an event
func eventDetail(ev *crowdfunding.Event) string {
	switch {
	case ev.Account != nil && ev.Asset != nil:
		return fmt.Sprintf("%s by %s", ev.Asset, truncateID(ev.Account.String()))
	case ev.Account != nil:
		return truncateID(ev.Account.String())
	case ev.Asset != nil:
		return ev.Asset.String()
	default:
		return "-"
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	db, _, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Ledger Statistics:")
	fmt.Printf("  Inactive:      %d\n", stats.Live[crowdfunding.StatusInactive])
	fmt.Printf("  Active:        %d\n", stats.Live[crowdfunding.StatusActive])
	fmt.Printf("  Settled:       %d\n", stats.Settled)
	fmt.Printf("  Investments:   %d\n", stats.Investments)
	fmt.Printf("  Events:        %d\n", stats.Events)
	fmt.Printf("  Size:          %d bytes\n", stats.SizeBytes)

	return nil
}

func runTick(cmd *cobra.Command, args []string) error {
	db, cfg, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := app.SetupLogger(cfg.Logging, os.Stderr)
	s := scheduler.New(newEngine(db, cfg), crowdfunding.SystemClock, scheduler.Config{}, logger)

	res, err := s.Tick(context.Background())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Printf("Scanned %d campaigns, applied %d transitions, %d failed\n",
		res.Scanned, res.Submitted-res.Failed, res.Failed)
	return nil
}
