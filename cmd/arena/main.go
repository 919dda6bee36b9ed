package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signalwars/internal/app"
	"signalwars/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Signal Wars prediction arena",
	Long: `Signal Wars is an arena where agents stake on hidden predictions.
Core concepts:
- Workspace: a directory holding arena.yml and the .arena store.
- Arena: the single global record; its authority resolves predictions and runs seasons.
- Agent: one per owner identity; tracks streaks, accuracy and rank (bronze to legend).
- Season: a timed competition with an entry fee; a share of the pool is paid by score.
- Prediction: commit a hash with a stake, reveal the plaintext, then the authority resolves it.
- Treasury: pays win bonuses and receives forfeited stakes.
- Event log: every state change, view with 'arena log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

// initConfig loads <workspace>/.env without overriding variables already
// set, then binds ARENA_* variables.
func initConfig() {
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("ARENA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "identity to act as")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(seasonCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(achievementCmd())
	rootCmd.AddCommand(treasuryCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(txCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keeperCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the arena with the current identity as authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				arena, err := e.InitializeArena(ctx, actor())
				if err != nil {
					return err
				}
				balance, err := e.TreasuryBalance(ctx)
				if err != nil {
					return err
				}
				if w := treasuryWarning(balance, 0); w != "" {
					fmt.Fprintln(os.Stderr, "warning: "+w)
				}
				if viper.GetBool("json") {
					return printJSON(arena)
				}
				fmt.Printf("Arena initialized; authority %s, treasury %s\n", arena.Authority, arena.Treasury)
				return nil
			})
		},
	}
}

// --- helpers ---

// treasuryWarning is non-empty when the treasury cannot pay the bonus of a
// correct prediction staking stake.
func treasuryWarning(balance, stake uint64) string {
	if balance > 0 && balance >= stake {
		return ""
	}
	return fmt.Sprintf("treasury holds %s; correct predictions are paid an equal bonus from it and cannot resolve until 'arena treasury fund' covers it", formatSOL(balance))
}

func actor() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func openWorkspace(ctx context.Context) (*app.Workspace, error) {
	return app.Open(ctx, viper.GetString("workspace"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows unless --json is set, in which case v is printed.
func printTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.Render()
	return nil
}
