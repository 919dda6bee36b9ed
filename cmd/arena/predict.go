package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signalwars/internal/commitment"
	"signalwars/internal/db"
	"signalwars/internal/domain"
	"signalwars/internal/engine"
)

func predictCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "predict",
		Short: "Commit, reveal and resolve predictions",
		Long: `A prediction is committed as the SHA-256 of its plaintext together with a stake.
'predict commit' keeps the plaintext under .arena/commitments so 'predict reveal'
can find it later by the committed hash.`,
	}
	p.AddCommand(predictCommitCmd())
	p.AddCommand(predictRevealCmd())
	p.AddCommand(predictResolveCmd())
	p.AddCommand(predictExpireCmd())
	p.AddCommand(predictListCmd())
	p.AddCommand(predictShowCmd())
	p.AddCommand(predictHashCmd())
	return p
}

func commitmentPath(workspace string, h domain.Hash) string {
	return filepath.Join(workspace, ".arena", "commitments", h.String()+".json")
}

func saveCommitment(workspace string, h domain.Hash, data []byte) (string, error) {
	dir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(dir, "commitments"), 0o700); err != nil {
		return "", err
	}
	path := commitmentPath(workspace, h)
	return path, os.WriteFile(path, data, 0o600)
}

func predictCommitCmd() *cobra.Command {
	var p commitment.Plaintext
	var seasonID uint64
	var stake string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a hidden prediction with a stake",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(stake)
			if err != nil {
				return err
			}
			p.Agent = actor()
			p.Timestamp = time.Now().Unix()
			data, hash, err := commitment.Commit(p)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pred, err := e.SubmitPrediction(ctx, actor(), seasonID, hash, amount)
				if err != nil {
					return err
				}
				path, err := saveCommitment(viper.GetString("workspace"), hash, data)
				if err != nil {
					return fmt.Errorf("prediction %d committed but plaintext not saved: %w", pred.Sequence, err)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"prediction": pred, "plaintext_file": path})
				}
				fmt.Printf("Committed prediction %d in season %d, hash %s\nPlaintext saved to %s\n", pred.Sequence, pred.SeasonID, hash, path)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&seasonID, "season", 0, "season id")
	cmd.Flags().StringVar(&p.Asset, "asset", "", "asset symbol, e.g. SOL")
	cmd.Flags().StringVar(&p.Direction, "direction", "", "up or down")
	cmd.Flags().Float64Var(&p.TargetPrice, "target", 0, "target price")
	cmd.Flags().StringVar(&p.Timeframe, "timeframe", "24h", "timeframe label")
	cmd.Flags().IntVar(&p.Confidence, "confidence", 50, "confidence 0-100")
	cmd.Flags().StringVar(&stake, "stake", "", "stake in base units or with a sol suffix")
	_ = cmd.MarkFlagRequired("season")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("direction")
	_ = cmd.MarkFlagRequired("stake")
	return cmd
}

func addRefFlags(cmd *cobra.Command, ref *engine.PredictionRef) {
	cmd.Flags().StringVar(&ref.Owner, "owner", "", "agent owner (default: current identity)")
	cmd.Flags().Uint64Var(&ref.SeasonID, "season", 0, "season id")
	cmd.Flags().Uint64Var(&ref.Sequence, "seq", 0, "prediction sequence")
	_ = cmd.MarkFlagRequired("season")
	_ = cmd.MarkFlagRequired("seq")
}

func resolveRef(ref engine.PredictionRef) engine.PredictionRef {
	if ref.Owner == "" {
		ref.Owner = actor()
	}
	return ref
}

func predictRevealCmd() *cobra.Command {
	var ref engine.PredictionRef
	var file string
	cmd := &cobra.Command{
		Use:   "reveal",
		Short: "Reveal the plaintext of a committed prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := resolveRef(ref)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				path := file
				if path == "" {
					pred, err := e.GetPrediction(ctx, ref)
					if err != nil {
						return err
					}
					path = commitmentPath(viper.GetString("workspace"), pred.PredictionHash)
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read plaintext: %w", err)
				}
				pred, err := e.RevealPrediction(ctx, actor(), ref, data)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pred)
				}
				fmt.Printf("Revealed prediction %d: %s\n", pred.Sequence, pred.PredictionData)
				return nil
			})
		},
	}
	addRefFlags(cmd, &ref)
	cmd.Flags().StringVar(&file, "file", "", "plaintext file (default: the saved commitment)")
	return cmd
}

func predictResolveCmd() *cobra.Command {
	var ref engine.PredictionRef
	var correct bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Judge a revealed prediction (authority only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := resolveRef(ref)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ResolvePrediction(ctx, actor(), ref, correct)
				if correct && errors.Is(err, engine.ErrInsufficientFunds) {
					return withTreasuryHint(ctx, e, ref, err)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if correct {
					fmt.Printf("Correct: +%d score, %s returned, %s bonus; streak %d, rank %s\n",
						res.ScoreEarned, formatSOL(res.VaultReleased), formatSOL(res.Bonus), res.Agent.Streak, res.Agent.Rank)
					return nil
				}
				fmt.Printf("Incorrect: %s forfeited to %s; streak reset, rank %s\n", formatSOL(res.Forfeited), res.ForfeitTo, res.Agent.Rank)
				return nil
			})
		},
	}
	addRefFlags(cmd, &ref)
	cmd.Flags().BoolVar(&correct, "correct", false, "whether the prediction was correct")
	return cmd
}

// withTreasuryHint explains a failed win when the treasury is short.
func withTreasuryHint(ctx context.Context, e engine.Engine, ref engine.PredictionRef, err error) error {
	pred, perr := e.GetPrediction(ctx, ref)
	balance, berr := e.TreasuryBalance(ctx)
	if perr != nil || berr != nil {
		return err
	}
	if w := treasuryWarning(balance, pred.StakeAmount); w != "" {
		return fmt.Errorf("%w: %s", err, w)
	}
	return err
}

func predictExpireCmd() *cobra.Command {
	var ref engine.PredictionRef
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Forfeit an unrevealed prediction after its season ends (authority only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := resolveRef(ref)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ExpirePrediction(ctx, actor(), ref)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Expired: %s forfeited to %s; streak reset, rank %s\n", formatSOL(res.Forfeited), res.ForfeitTo, res.Agent.Rank)
				return nil
			})
		},
	}
	addRefFlags(cmd, &ref)
	return cmd
}

func predictShowCmd() *cobra.Command {
	var ref engine.PredictionRef
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := resolveRef(ref)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pred, err := e.GetPrediction(ctx, ref)
				if err != nil {
					return err
				}
				return printJSONOrTable(pred)
			})
		},
	}
	addRefFlags(cmd, &ref)
	return cmd
}

func predictListCmd() *cobra.Command {
	var owner, status string
	var seasonID uint64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List predictions",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := engine.PredictionFilter{Owner: owner, Status: domain.PredictionStatus(status)}
			if cmd.Flags().Changed("season") {
				f.SeasonID = &seasonID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				preds, err := e.ListPredictions(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(preds))
				for _, p := range preds {
					outcome := "-"
					if p.WasCorrect != nil {
						outcome = fmt.Sprintf("%t", *p.WasCorrect)
					}
					rows = append(rows, table.Row{p.Agent, p.SeasonID, p.Sequence, p.Status, formatSOL(p.StakeAmount), outcome, formatSOL(p.Payout)})
				}
				return printTable(preds, table.Row{"Agent", "Season", "Seq", "Status", "Stake", "Correct", "Payout"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "agent owner filter")
	cmd.Flags().Uint64Var(&seasonID, "season", 0, "season filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (committed, revealed, resolved)")
	return cmd
}

func predictHashCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the commitment hash of a plaintext file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			h := commitment.Hash(data)
			if viper.GetBool("json") {
				return printJSON(map[string]string{"hash": h.String()})
			}
			fmt.Println(h)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "plaintext file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
