package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
)

var (
	campaignListStatus string

	createID      string
	createCreator string
	createShares  []string
	createRaise   string
	createSoftCap uint64
	createHardCap uint64
	createStart   string
	createEnd     string
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign management commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unsettled campaigns",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show a campaign or its settlement",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

var campaignContributionsCmd = &cobra.Command{
	Use:   "contributions <campaign_id>",
	Short: "List contributions of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignContributions,
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign and lock its shares",
	Long: `Create a campaign and lock its shares into the campaign escrow.

Times are RFC 3339 or an offset from now such as +10m.

Example:
  crowdsale campaign create -c config.yaml \
    --creator 0x01...01 --share SHARE:1000 --raise USDT \
    --soft-cap 100 --hard-cap 500 --start +1m --end +24h`,
	RunE: runCampaignCreate,
}

var campaignInvestCmd = &cobra.Command{
	Use:   "invest <campaign_id> <investor> <amount>",
	Short: "Invest an amount of the raise asset",
	Args:  cobra.ExactArgs(3),
	RunE:  runCampaignInvest,
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignListStatus, "status", "", "Filter by status (inactive, active)")

	campaignCreateCmd.Flags().StringVar(&createID, "id", "", "Campaign id (default: random)")
	campaignCreateCmd.Flags().StringVar(&createCreator, "creator", "", "Creator account (required)")
	campaignCreateCmd.Flags().StringArrayVar(&createShares, "share", nil, "Share to sell as ASSET:AMOUNT (repeatable, required)")
	campaignCreateCmd.Flags().StringVar(&createRaise, "raise", "", "Raise asset (required)")
	campaignCreateCmd.Flags().Uint64Var(&createSoftCap, "soft-cap", 0, "Soft cap in raise asset units")
	campaignCreateCmd.Flags().Uint64Var(&createHardCap, "hard-cap", 0, "Hard cap in raise asset units")
	campaignCreateCmd.Flags().StringVar(&createStart, "start", "+5s", "Start time")
	campaignCreateCmd.Flags().StringVar(&createEnd, "end", "", "End time (required)")
	campaignCreateCmd.MarkFlagRequired("creator")
	campaignCreateCmd.MarkFlagRequired("share")
	campaignCreateCmd.MarkFlagRequired("raise")
	campaignCreateCmd.MarkFlagRequired("end")

	campaignCmd.AddCommand(
		campaignListCmd,
		campaignShowCmd,
		campaignContributionsCmd,
		campaignCreateCmd,
		campaignInvestCmd,
		transitionCmd("activate", "Activate an inactive campaign after its start time",
			func(e *crowdfunding.Engine) func(context.Context, crowdfunding.CampaignID) error { return e.Activate }),
		transitionCmd("expire", "Refund a campaign that ended below its soft cap",
			func(e *crowdfunding.Engine) func(context.Context, crowdfunding.CampaignID) error { return e.Expire }),
		transitionCmd("finish", "Distribute shares of a campaign that reached its soft cap",
			func(e *crowdfunding.Engine) func(context.Context, crowdfunding.CampaignID) error { return e.Finish }),
	)
	rootCmd.AddCommand(campaignCmd)
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	db, cfg, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	campaigns, err := newEngine(db, cfg).Campaigns(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if campaignListStatus != "" {
		filtered := make([]*crowdfunding.Campaign, 0, len(campaigns))
		for _, c := range campaigns {
			if string(c.Status) == campaignListStatus {
				filtered = append(filtered, c)
			}
		}
		campaigns = filtered
	}

	if len(campaigns) == 0 {
		fmt.Println("No campaigns")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tRAISED\tSOFT\tHARD\tSTART\tEND")
	fmt.Fprintln(w, "--\t------\t------\t----\t----\t-----\t---")

	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(c.ID.String()),
			c.Status,
			c.Fund(c.Raised),
			c.SoftCap,
			c.HardCap,
			c.StartTime.Format("2006-01-02 15:04"),
			c.EndTime.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d campaigns\n", len(campaigns))

	return nil
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	id, err := crowdfunding.ParseCampaignID(args[0])
	if err != nil {
		return err
	}

	db, cfg, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	engine := newEngine(db, cfg)

	c, err := engine.Campaign(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	if c != nil {
		printCampaign(c)
		return nil
	}

	s, err := engine.Settlement(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get settlement: %w", err)
	}
	if s == nil {
		return fmt.Errorf("campaign not found: %s", id)
	}
	printSettlement(s)
	return nil
}

func printCampaign(c *crowdfunding.Campaign) {
	fmt.Printf("Campaign: %s\n\n", c.ID)
	fmt.Printf("Status:      %s\n", c.Status)
	fmt.Printf("Creator:     %s\n", c.Creator)
	fmt.Printf("Escrow:      %s\n", c.Account)
	fmt.Printf("Raise asset: %s\n", c.RaiseAsset)
	fmt.Printf("Raised:      %s (soft cap %s, hard cap %s)\n", c.Raised, c.SoftCap, c.HardCap)
	fmt.Printf("Start:       %s\n", c.StartTime.Format(time.RFC3339))
	fmt.Printf("End:         %s\n", c.EndTime.Format(time.RFC3339))
	fmt.Printf("Created:     %s\n", c.CreatedAt.Format(time.RFC3339))

	fmt.Println("\nShares:")
	for _, s := range c.Shares {
		fmt.Printf("  %s\n", s)
	}
}

func printSettlement(s *crowdfunding.Settlement) {
	fmt.Printf("Campaign: %s (settled)\n\n", s.CampaignID)
	fmt.Printf("Outcome:     %s\n", s.Status)
	fmt.Printf("Creator:     %s\n", s.Creator)
	fmt.Printf("Raised:      %s %s from %d investors\n", s.Raised, s.RaiseAsset, s.Investors)
	fmt.Printf("Settled:     %s\n", s.SettledAt.Format(time.RFC3339))

	if len(s.Payouts) > 0 {
		fmt.Println("\nPayouts:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, p := range s.Payouts {
			fmt.Fprintf(w, "  %s\t%s\n", p.Account, p.Asset)
		}
		w.Flush()
	}
	if len(s.Returned) > 0 {
		fmt.Println("\nReturned to creator:")
		for _, a := range s.Returned {
			fmt.Printf("  %s\n", a)
		}
	}
}

func runCampaignContributions(cmd *cobra.Command, args []string) error {
	id, err := crowdfunding.ParseCampaignID(args[0])
	if err != nil {
		return err
	}

	db, cfg, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	contributions, err := newEngine(db, cfg).Contributions(context.Background(), id)
	if err != nil {
		return fmt.Errorf("failed to list contributions: %w", err)
	}

	if len(contributions) == 0 {
		fmt.Println("No contributions")
		return nil
	}

	var total asset.Balance
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INVESTOR\tAMOUNT\tTIME")
	fmt.Fprintln(w, "--------\t------\t----")
	for _, c := range contributions {
		total = total.SaturatingAdd(c.Amount)
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Investor, c.Amount, c.Time.Format(time.RFC3339))
	}
	w.Flush()
	fmt.Printf("\nTotal: %s from %d investors\n", total, len(contributions))

	return nil
}

func runCampaignCreate(cmd *cobra.Command, args []string) error {
	now := time.Now()

	creator, err := account.Parse(createCreator)
	if err != nil {
		return fmt.Errorf("invalid --creator: %w", err)
	}
	raise, err := asset.ParseID(createRaise)
	if err != nil {
		return fmt.Errorf("invalid --raise: %w", err)
	}
	shares := make([]asset.Asset, 0, len(createShares))
	for _, s := range createShares {
		a, err := parseAssetArg(s)
		if err != nil {
			return fmt.Errorf("invalid --share: %w", err)
		}
		shares = append(shares, a)
	}
	start, err := parseTimeArg(createStart, now)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := parseTimeArg(createEnd, now)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	id := crowdfunding.NewCampaignID()
	if createID != "" {
		if id, err = crowdfunding.ParseCampaignID(createID); err != nil {
			return err
		}
	}

	db, cfg, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	err = newEngine(db, cfg).Create(context.Background(), crowdfunding.CreateParams{
		ID:         id,
		Creator:    creator,
		Shares:     shares,
		RaiseAsset: raise,
		SoftCap:    asset.Balance(createSoftCap),
		HardCap:    asset.Balance(createHardCap),
		StartTime:  start,
		EndTime:    end,
	})
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	fmt.Printf("Campaign created: %s\n", id)
	fmt.Printf("Escrow account:   %s\n", id.Escrow())
	return nil
}

func runCampaignInvest(cmd *cobra.Command, args []string) error {
	id, err := crowdfunding.ParseCampaignID(args[0])
	if err != nil {
		return err
	}
	investor, err := account.Parse(args[1])
	if err != nil {
		return err
	}
	amount, err := asset.ParseBalance(args[2])
	if err != nil {
		return err
	}

	db, cfg, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	engine := newEngine(db, cfg)

	c, err := engine.Campaign(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", id)
	}

	if err := engine.Invest(ctx, investor, id, c.Fund(amount)); err != nil {
		return fmt.Errorf("failed to invest: %w", err)
	}

	fmt.Printf("Invested in %s\n", id)
	return nil
}

// transitionCmd builds the activate, expire and finish subcommands
func transitionCmd(name, short string, pick func(*crowdfunding.Engine) func(context.Context, crowdfunding.CampaignID) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <campaign_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := crowdfunding.ParseCampaignID(args[0])
			if err != nil {
				return err
			}

			db, cfg, err := openLedger()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := pick(newEngine(db, cfg))(context.Background(), id); err != nil {
				return fmt.Errorf("failed to %s campaign: %w", name, err)
			}

			fmt.Printf("Campaign %s: %s done\n", id, name)
			return nil
		},
	}
}

// parseAssetArg parses ASSET:AMOUNT
func parseAssetArg(s string) (asset.Asset, error) {
	idPart, amountPart, ok := strings.Cut(s, ":")
	if !ok {
		return asset.Asset{}, fmt.Errorf("%q: want ASSET:AMOUNT", s)
	}
	id, err := asset.ParseID(idPart)
	if err != nil {
		return asset.Asset{}, err
	}
	amount, err := asset.ParseBalance(amountPart)
	if err != nil {
		return asset.Asset{}, err
	}
	return asset.New(id, amount), nil
}

// parseTimeArg parses an RFC 3339 time or a +duration offset from now
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil
	}
	return time.Parse(time.RFC3339, s)
}

// truncateID shortens a hex id for table output
func truncateID(id string) string {
	if len(id) > 14 {
		return id[:10] + "…" + id[len(id)-4:]
	}
	return id
}
