package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/api"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/audit"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/config"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/core"
	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "aicos",
	Short: "AICoS persistence core CLI",
	Long:  "Manage credentials, state, capabilities and audit data of the AICoS persistence core.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.aicos/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(secretCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(scopesCmd())
	rootCmd.AddCommand(validateCmd())
}

// openCore loads config and wires the full registry. The caller must
// Close the returned core.
func openCore(ctx context.Context) (*core.Core, config.Config, error) {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home + "/.aicos/config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cfg, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	c, err := core.New(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return c, cfg, nil
}

// --- serve ---

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, cfg, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.StartJanitor(); err != nil {
				return fmt.Errorf("starting janitor: %w", err)
			}

			srv := api.NewServer(c)
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				if err := srv.Start(); err != nil {
					log.Fatal().Err(err).Msg("server failed")
				}
			}()

			log.Info().Str("addr", cfg.ListenAddr).Str("env", string(cfg.Env())).Msg("core started")
			<-quit

			log.Info().Msg("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown error")
			}
			return nil
		},
	}
}

// --- secret ---

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secret", Short: "Manage encrypted credentials"}

	putCmd := &cobra.Command{
		Use:   "put <id> [key=value ...]",
		Short: "Store a credential",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			data := map[string]any{}
			for _, kv := range args[1:] {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid key=value pair: %s", kv)
				}
				data[parts[0]] = parts[1]
			}
			ctx := context.Background()
			c, cfg, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Secrets.Put(ctx, cfg.Env(), args[0], kind, data, nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Credential stored: " + args[0])
			return nil
		},
	}
	putCmd.Flags().String("kind", "api_key", "Credential kind (api_key, oauth, webhook)")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, cfg, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			cred, err := c.Secrets.Retrieve(ctx, cfg.Env(), args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(map[string]any{
				"id":         cred.ID,
				"kind":       cred.Kind,
				"data":       cred.Data,
				"updated_at": cred.UpdatedAt.Format(time.RFC3339),
			})
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, cfg, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			existed, err := c.Secrets.Delete(ctx, cfg.Env(), args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if !existed {
				printSuccess("Nothing to delete: " + args[0])
				return nil
			}
			printSuccess("Success! Credential deleted: " + args[0])
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored credentials (no secret material)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			summaries, err := c.Secrets.List(ctx)
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows := make([]map[string]any, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, map[string]any{
					"id":         s.ID,
					"kind":       s.Kind,
					"updated_at": s.UpdatedAt.Format(time.RFC3339),
				})
			}
			printRows(rows, []string{"id", "kind", "updated_at"})
			return nil
		},
	}

	logCmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show the access log for a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := context.Background()
			c, cfg, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.Secrets.AccessLog(ctx, cfg.Env(), args[0], limit)
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, map[string]any{
					"timestamp": e.Timestamp.Format(time.RFC3339),
					"action":    e.Action,
					"user":      e.User,
				})
			}
			printRows(rows, []string{"timestamp", "action", "user"})
			return nil
		},
	}
	logCmd.Flags().Int("limit", 20, "Maximum entries to show")

	reencryptCmd := &cobra.Command{
		Use:   "reencrypt",
		Short: "Re-encrypt credentials still using the legacy fixed salt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.Secrets.ReencryptLegacy(ctx)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess(fmt.Sprintf("Success! Re-encrypted %d credential(s).", n))
			return nil
		},
	}

	cmd.AddCommand(putCmd, getCmd, deleteCmd, listCmd, logCmd, reencryptCmd)
	return cmd
}

// --- state ---

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "state", Short: "Inspect and edit persistent state"}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a state value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			val, ok, err := c.State.Get(ctx, args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if !ok {
				printError("key not found: " + args[0])
				return nil
			}
			fmt.Println(val)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a state value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.State.Set(ctx, args[0], args[1]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! State updated: " + args[0])
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a state key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			existed, err := c.State.Delete(ctx, args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if !existed {
				printSuccess("Nothing to delete: " + args[0])
				return nil
			}
			printSuccess("Success! State key deleted: " + args[0])
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all state keys and values",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			all, err := c.State.All(ctx)
			if err != nil {
				printError(err.Error())
				return nil
			}
			out := make(map[string]any, len(all))
			for k, v := range all {
				out[k] = v
			}
			printResult(out)
			return nil
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <key>",
		Short: "Show the change history for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.State.History(ctx, args[0], limit)
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, map[string]any{
					"timestamp": e.Timestamp.Format(time.RFC3339),
					"op":        string(e.Op),
					"value":     e.Value,
				})
			}
			printRows(rows, []string{"timestamp", "op", "value"})
			return nil
		},
	}
	historyCmd.Flags().Int("limit", 20, "Maximum entries to show")

	cmd.AddCommand(getCmd, setCmd, deleteCmd, listCmd, historyCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Query the audit ledger"}

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "List recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			eventType, _ := cmd.Flags().GetString("type")
			actor, _ := cmd.Flags().GetString("actor")
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			events := c.Ledger.Query(audit.Filter{
				Type:  models.EventType(eventType),
				Actor: actor,
			}, limit)
			rows := make([]map[string]any, 0, len(events))
			for _, e := range events {
				rows = append(rows, map[string]any{
					"timestamp": e.Timestamp.Format(time.RFC3339),
					"type":      string(e.Type),
					"level":     e.Level.String(),
					"actor":     e.Actor,
					"success":   e.Success,
				})
			}
			printRows(rows, []string{"timestamp", "type", "level", "actor", "success"})
			return nil
		},
	}
	queryCmd.Flags().String("type", "", "Filter by event type")
	queryCmd.Flags().String("actor", "", "Filter by actor")
	queryCmd.Flags().Int("limit", 50, "Maximum events to show")

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate retained audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			windowStr, _ := cmd.Flags().GetString("window")
			var window time.Duration
			if windowStr != "" {
				d, err := time.ParseDuration(windowStr)
				if err != nil {
					return fmt.Errorf("invalid window: %w", err)
				}
				window = d
			}
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			s := c.Ledger.Summarize(window)
			byType := map[string]any{}
			for t, n := range s.ByType {
				byType[string(t)] = n
			}
			byLevel := map[string]any{}
			for lvl, n := range s.ByLevel {
				byLevel[lvl] = n
			}
			actors := make([]any, 0, len(s.TopActors))
			for _, a := range s.TopActors {
				actors = append(actors, fmt.Sprintf("%s (%d)", a.Actor, a.Count))
			}
			printResult(map[string]any{
				"top_actors":   actors,
				"total":        s.Total,
				"by_type":      byType,
				"by_level":     byLevel,
				"success_rate": strconv.FormatFloat(s.SuccessRate, 'f', 3, 64),
			})
			return nil
		},
	}
	summaryCmd.Flags().String("window", "", "Trailing window, e.g. 1h (default: whole buffer)")

	cmd.AddCommand(queryCmd, summaryCmd)
	return cmd
}

// --- scopes ---

func scopesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scopes", Short: "Capability catalog and permission checks"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known capability scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			rows := make([]map[string]any, 0)
			for _, s := range c.Catalog.All() {
				rows = append(rows, map[string]any{
					"name":     s.Name,
					"category": s.Category,
					"kind":     string(s.Kind),
				})
			}
			printRows(rows, []string{"name", "category", "kind"})
			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check <method>",
		Short: "Check whether the configured token may call an API method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kindStr, _ := cmd.Flags().GetString("kind")
			kind := models.KindBot
			if kindStr == "user" {
				kind = models.KindUser
			}
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			d := c.Permissions.CheckForAPI(ctx, args[0], kind)
			printResult(map[string]any{
				"method":  d.Method,
				"allowed": d.Allowed,
				"valid":   d.Valid,
				"missing": strings.Join(d.Missing, ", "),
			})
			return nil
		},
	}
	checkCmd.Flags().String("kind", "bot", "Token kind: bot or user")

	cmd.AddCommand(listCmd, checkCmd)
	return cmd
}

// --- validate ---

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check credential and storage health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			checks := c.Vault.ValidateAll(ctx)
			out := make(map[string]any, len(checks))
			healthy := true
			for k, ok := range checks {
				out[k] = ok
				if !ok {
					healthy = false
				}
			}
			printResult(out)
			if !healthy {
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}
}
