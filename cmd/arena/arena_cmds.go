package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signalwars/internal/domain"
	"signalwars/internal/engine"
	"signalwars/internal/scoring"
)

func agentCmd() *cobra.Command {
	ag := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
		Long:  "Each identity owns at most one agent. Agents accumulate streaks, accuracy, rank and reputation across seasons.",
	}
	ag.AddCommand(agentRegisterCmd())
	ag.AddCommand(agentShowCmd())
	ag.AddCommand(agentListCmd())
	return ag
}

func agentRegisterCmd() *cobra.Command {
	var name, endpoint string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the agent of the current identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agent, err := e.RegisterAgent(ctx, actor(), name, endpoint)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agent)
				}
				fmt.Printf("Registered %s (%s)\n", agent.Name, agent.Key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "agent endpoint URL")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [owner]",
		Short: "Show an agent; defaults to the current identity's",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := actor()
			if len(args) == 1 {
				owner = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agent, err := e.GetAgent(ctx, owner)
				if err != nil {
					return err
				}
				return printJSONOrTable(agentView{Agent: agent, Accuracy: scoring.Accuracy(agent.CorrectPredictions, agent.TotalPredictions)})
			})
		},
	}
}

type agentView struct {
	domain.Agent
	Accuracy uint64 `json:"accuracy_pct"`
}

func agentListCmd() *cobra.Command {
	var rank string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agents, err := e.ListAgents(ctx, domain.Rank(rank))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(agents))
				for _, a := range agents {
					rows = append(rows, table.Row{a.Owner, a.Name, a.Rank, fmt.Sprintf("%d/%d", a.CorrectPredictions, a.TotalPredictions), a.Streak, a.BestStreak, a.ReputationScore})
				}
				return printTable(agents, table.Row{"Owner", "Name", "Rank", "Correct", "Streak", "Best", "Reputation"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&rank, "rank", "", "rank filter (bronze, silver, gold, diamond, legend)")
	return cmd
}

func walletCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect and fund wallets",
	}
	w.AddCommand(walletDepositCmd())
	w.AddCommand(walletBalanceCmd())
	return w
}

func walletDepositCmd() *cobra.Command {
	var owner, amount string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Credit external funds to a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseAmount(amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := e.Deposit(ctx, actor(), owner, v)
				if err != nil {
					return err
				}
				return printBalance(owner, balance)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "wallet owner (default: current identity)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in base units or with a sol suffix")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func walletBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [owner]",
		Short: "Show a wallet balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := actor()
			if len(args) == 1 {
				owner = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := e.WalletBalance(ctx, owner)
				if err != nil {
					return err
				}
				return printBalance(owner, balance)
			})
		},
	}
}

func printBalance(owner string, balance uint64) error {
	if owner == "" {
		owner = actor()
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"owner": owner, "balance": balance})
	}
	fmt.Printf("%s: %d (%s)\n", owner, balance, formatSOL(balance))
	return nil
}

func seasonCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "season",
		Short: "Manage seasons",
		Long:  "Seasons collect entry fees into a vault. After the end time the authority distributes the prize share by score, or cancels and refunds.",
	}
	s.AddCommand(seasonCreateCmd())
	s.AddCommand(seasonEnterCmd())
	s.AddCommand(seasonListCmd())
	s.AddCommand(seasonShowCmd())
	s.AddCommand(seasonStandingsCmd())
	s.AddCommand(seasonDistributeCmd())
	s.AddCommand(seasonCancelCmd())
	return s
}

func seasonIDArg(args []string) (uint64, error) {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid season id %q", args[0])
	}
	return id, nil
}

func seasonCreateCmd() *cobra.Command {
	var fee string
	var days uint64
	var bps uint16
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a season (authority only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			entryFee, err := parseAmount(fee)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				season, err := e.CreateSeason(ctx, actor(), entryFee, days, bps)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(season)
				}
				fmt.Printf("Season %d open until %d, entry fee %s, prize share %d bps\n", season.ID, season.EndTime, formatSOL(season.EntryFee), season.PrizePoolBps)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fee, "fee", "0", "entry fee in base units or with a sol suffix")
	cmd.Flags().Uint64Var(&days, "days", 7, "duration in days")
	cmd.Flags().Uint16Var(&bps, "bps", 9000, "share of the pool paid out, in basis points")
	return cmd
}

func seasonEnterCmd() *cobra.Command {
	var agentOwner string
	cmd := &cobra.Command{
		Use:   "enter <season-id>",
		Short: "Enter your agent, paying the fee from your wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := seasonIDArg(args)
			if err != nil {
				return err
			}
			owner := agentOwner
			if owner == "" {
				owner = actor()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.EnterSeason(ctx, actor(), id, owner)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&agentOwner, "agent-owner", "", "owner of the agent to enter; must be the current identity")
	return cmd
}

func seasonListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List seasons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				seasons, err := e.ListSeasons(ctx, domain.SeasonStatus(status))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(seasons))
				for _, s := range seasons {
					rows = append(rows, table.Row{s.ID, s.Status, formatSOL(s.EntryFee), s.TotalEntries, formatSOL(s.TotalPool), s.PrizePoolBps, s.EndTime})
				}
				return printTable(seasons, table.Row{"ID", "Status", "Fee", "Entries", "Pool", "Bps", "Ends"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (active, completed, cancelled)")
	return cmd
}

func seasonShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <season-id>",
		Short: "Show a season",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := seasonIDArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				season, err := e.GetSeason(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(season)
			})
		},
	}
}

func seasonStandingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "standings <season-id>",
		Short: "Season leaderboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := seasonIDArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Standings(ctx, id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(entries))
				for i, ent := range entries {
					rows = append(rows, table.Row{i + 1, ent.Agent, ent.Score, fmt.Sprintf("%d/%d", ent.PredictionsCorrect, ent.PredictionsMade), formatSOL(ent.Prize)})
				}
				return printTable(entries, table.Row{"#", "Agent", "Score", "Correct", "Prize"}, rows)
			})
		},
	}
}

func seasonDistributeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distribute <season-id>",
		Short: "Distribute prizes of an ended season (authority only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := seasonIDArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dist, err := e.DistributePrizes(ctx, actor(), id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(dist.Payouts))
				for _, p := range dist.Payouts {
					rows = append(rows, table.Row{p.Agent, p.Payer, p.Score, formatSOL(p.Amount)})
				}
				if err := printTable(dist, table.Row{"Agent", "Payer", "Score", "Prize"}, rows); err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("Distributed %s of %s; %s left in vault\n", formatSOL(dist.Distributed), formatSOL(dist.PrizePool), formatSOL(dist.VaultBalance))
				}
				return nil
			})
		},
	}
}

func seasonCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <season-id>",
		Short: "Cancel an active season and refund entry fees (authority only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := seasonIDArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CancelSeason(ctx, actor(), id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Season %d cancelled; refunded %s to %d entries, %s to treasury\n", id, formatSOL(res.Refunded), len(res.Refunds), formatSOL(res.ToTreasury))
				return nil
			})
		},
	}
}

func achievementCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "achievement",
		Short: "Award and list achievements",
	}
	a.AddCommand(achievementAwardCmd())
	a.AddCommand(achievementListCmd())
	return a
}

func achievementAwardCmd() *cobra.Command {
	var owner, kind string
	cmd := &cobra.Command{
		Use:   "award",
		Short: "Award an achievement to an agent (authority only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ach, err := e.AwardAchievement(ctx, actor(), owner, domain.AchievementType(kind))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ach)
				}
				fmt.Printf("Awarded %s to %s (+%d reputation)\n", ach.AchievementType, owner, ach.ReputationDelta)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "agent owner")
	cmd.Flags().StringVar(&kind, "type", "", "achievement type (first_win, streak_3, ..., rank_legend)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func achievementListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List achievements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAchievements(ctx, owner)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, a := range items {
					rows = append(rows, table.Row{a.Agent, a.AchievementType, a.ReputationDelta, a.AwardedAt})
				}
				return printTable(items, table.Row{"Agent", "Type", "Reputation", "Awarded"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "agent owner filter")
	return cmd
}

func treasuryCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "treasury",
		Short: "Fund, withdraw and inspect the treasury",
	}
	t.AddCommand(treasuryMoveCmd("fund", "Move funds from the current identity's wallet into the treasury", engine.Engine.FundTreasury))
	t.AddCommand(treasuryMoveCmd("withdraw", "Withdraw treasury funds to the authority's wallet", engine.Engine.WithdrawTreasury))
	t.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Show the treasury balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := e.TreasuryBalance(ctx)
				if err != nil {
					return err
				}
				return printBalance("treasury", balance)
			})
		},
	})
	return t
}

func treasuryMoveCmd(use, short string, move func(engine.Engine, context.Context, string, uint64) (uint64, error)) *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseAmount(amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := move(e, ctx, actor(), v)
				if err != nil {
					return err
				}
				return printBalance("treasury", balance)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount in base units or with a sol suffix")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
