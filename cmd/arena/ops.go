package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"signalwars/internal/config"
	"signalwars/internal/db"
	"signalwars/internal/domain"
	"signalwars/internal/engine"
	"signalwars/internal/keeper"
	"signalwars/internal/repo"
	"signalwars/internal/server"
	"signalwars/internal/wire"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect arena config",
		Long:  "arena.yml holds limits, scoring constants, reputation per achievement, the forfeit destination, keeper schedules, server settings and webhooks. Missing keys fall back to defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default arena.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate arena.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.LoadOrDefault(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
		Long:  "API keys authenticate requests through the X-Api-Key header. Only a SHA-256 digest is stored; the secret is printed once at creation.",
	}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyDeleteCmd())
	return k
}

func newAPISecret() string {
	return "sw_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

func apiKeyCreateCmd() *cobra.Command {
	var identity, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity == "" {
				identity = actor()
			}
			secret := newAPISecret()
			key := domain.APIKey{
				ID:        uuid.NewString(),
				Identity:  identity,
				Name:      name,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"api_key": key, "secret": secret})
				}
				fmt.Printf("Created key %s for %s\nSecret (shown once): %s\n", key.ID, key.Identity, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "identity the key authenticates (default: current identity)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var identity string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, identity)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.Identity, k.Name, k.CreatedAt})
				}
				return printTable(items, table.Row{"ID", "Identity", "Name", "Created"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "identity filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted key %s\n", args[0])
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	return cmd
}

func txCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "tx",
		Short: "Encode, decode and execute binary instructions",
		Long:  "Instructions are a one byte opcode followed by little-endian arguments, the same format accepted by POST /v0/tx.",
	}
	t.AddCommand(txEncodeCmd())
	t.AddCommand(txDecodeCmd())
	t.AddCommand(txExecCmd())
	return t
}

func decodeTxArg(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		return hex.DecodeString(strings.TrimPrefix(s, "0x"))
	}
	return base64.StdEncoding.DecodeString(s)
}

func txEncodeCmd() *cobra.Command {
	var opName, argsJSON string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode an instruction from JSON arguments",
		Example: `  arena tx encode --op create_season --args '{"entry_fee":100000000,"duration_days":7,"prize_pool_bps":9000}'
  arena tx encode --op distribute_prizes --args '{"season_id":0}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := wire.ParseOpcode(opName)
			if err != nil {
				return err
			}
			in, err := wire.FromJSON(op, []byte(argsJSON))
			if err != nil {
				return err
			}
			data, err := wire.Encode(in)
			if err != nil {
				return err
			}
			out := map[string]string{
				"opcode": op.String(),
				"base64": base64.StdEncoding.EncodeToString(data),
				"hex":    "0x" + hex.EncodeToString(data),
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Println(out["base64"])
			return nil
		},
	}
	cmd.Flags().StringVar(&opName, "op", "", "instruction name, e.g. submit_prediction")
	cmd.Flags().StringVar(&argsJSON, "args", "", "instruction arguments as JSON")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func txDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <base64|0xhex>",
		Short: "Decode an instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := decodeTxArg(args[0])
			if err != nil {
				return err
			}
			in, err := wire.Decode(data)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"opcode": in.Op().String(), "args": in})
		},
	}
}

func txExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <base64|0xhex>",
		Short: "Execute an instruction as the current identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := decodeTxArg(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				op, result, err := e.ExecuteBytes(ctx, actor(), data)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"opcode": op.String(), "result": result})
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, withKeeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			if addr == "" {
				addr = ws.Config.Server.Addr
			}
			if basePath == "" {
				basePath = ws.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				AllowActorHeader: allowActorHeader,
				DevLogin:         ws.Config.Server.DevAuth,
			}
			if authCfg.JWTSecret == "" && authCfg.DevLogin {
				return fmt.Errorf("ARENA_JWT_SECRET is required when dev_auth is enabled")
			}
			handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg, Context: cmd.Context()})
			if err != nil {
				return err
			}
			if withKeeper {
				k := keeper.New(cmd.Context(), ws.Engine, ws.Config.Keeper.Authority)
				if err := k.RegisterAll(ws.Config.Keeper.SettleCron, ws.Config.Keeper.AchievementsCron); err != nil {
					return err
				}
				k.Start()
				defer k.Stop()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				<-gctx.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			})
			g.Go(func() error {
				fmt.Printf("Serving Signal Wars API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default: server.base_path)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().BoolVar(&withKeeper, "keeper", false, "run the keeper schedules in-process")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env ARENA_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func keeperCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "keeper",
		Short: "Settle ended seasons and award achievements",
		Long:  "The keeper acts as the arena authority: it distributes prizes for active seasons past their end time and awards achievements agents have earned.",
	}
	k.AddCommand(keeperRunCmd())
	k.AddCommand(keeperOnceCmd())
	return k
}

func keeperRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the keeper schedules until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			kc := ws.Config.Keeper
			k := keeper.New(cmd.Context(), ws.Engine, kc.Authority)
			if err := k.RegisterAll(kc.SettleCron, kc.AchievementsCron); err != nil {
				return err
			}
			k.Start()
			<-cmd.Context().Done()
			k.Stop()
			return nil
		},
	}
}

func keeperOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run both keeper passes immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			k := keeper.New(cmd.Context(), ws.Engine, ws.Config.Keeper.Authority)
			settled, settleErr := k.SettleEndedSeasons(cmd.Context())
			awarded, awardErr := k.AwardMilestones(cmd.Context())
			if viper.GetBool("json") {
				if err := printJSON(map[string]any{"settled": settled, "awarded": awarded}); err != nil {
					return err
				}
			} else {
				for _, d := range settled {
					fmt.Printf("Settled season %d: %s paid to %d entries\n", d.Season.ID, formatSOL(d.Distributed), len(d.Payouts))
				}
				for _, a := range awarded {
					fmt.Printf("Awarded %s to %s\n", a.AchievementType, a.Agent)
				}
			}
			return errors.Join(settleErr, awardErr)
		},
	}
}
