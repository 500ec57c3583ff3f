package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	monitorrun "github.com/soliktomasz/BusLane-sub000/internal/cmd/monitor"
	"github.com/soliktomasz/BusLane-sub000/internal/capture"
	cfgpkg "github.com/soliktomasz/BusLane-sub000/internal/config"
	"github.com/soliktomasz/BusLane-sub000/internal/livestream"
	pebblestore "github.com/soliktomasz/BusLane-sub000/internal/storage/pebble"
	logpkg "github.com/soliktomasz/BusLane-sub000/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "buslane",
		Short: "BusLane broker monitor CLI",
		Long:  "BusLane watches message-broker entities without consuming their messages.",
	}
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newCapturesCommand())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildLogger(cmd *cobra.Command) logpkg.Logger {
	levelName, _ := cmd.Flags().GetString("log-level")
	formatName, _ := cmd.Flags().GetString("log-format")
	level, err := logpkg.ParseLevel(levelName)
	if err != nil {
		level = logpkg.InfoLevel
	}
	format, err := logpkg.ParseFormat(formatName)
	if err != nil {
		format = logpkg.FormatText
	}
	return logpkg.NewLogger(logpkg.WithLevel(level), logpkg.WithFormat(format))
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", os.Getenv("BUSLANE_LOG_LEVEL"), "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", os.Getenv("BUSLANE_LOG_FORMAT"), "Log format: text|json")
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the monitor server (HTTP API + SSE feed)",
		Aliases: []string{"server"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if v, _ := cmd.Flags().GetString("endpoint"); v != "" {
				cfg.Endpoint = v
			}
			if v, _ := cmd.Flags().GetString("http"); v != "" {
				cfg.HTTPAddr = v
			}
			dataDir, _ := cmd.Flags().GetString("data-dir")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return monitorrun.Run(ctx, monitorrun.Options{
				Config:  cfg,
				DataDir: dataDir,
				Logger:  buildLogger(cmd),
			})
		},
	}
	cmd.Flags().String("config", os.Getenv("BUSLANE_CONFIG"), "Config file (JSON or YAML)")
	cmd.Flags().String("endpoint", "", "Broker connection string, or memory: for demo mode")
	cmd.Flags().String("http", "", "HTTP listen address (default :8080)")
	cmd.Flags().String("data-dir", "", "Capture data directory (default OS application data dir)")
	addLogFlags(cmd)
	return cmd
}

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream one entity to stdout as JSON lines until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, _ := cmd.Flags().GetString("endpoint")
			entity, _ := cmd.Flags().GetString("entity")
			subscription, _ := cmd.Flags().GetString("subscription")
			deadLetter, _ := cmd.Flags().GetBool("dead-letter")
			modeName, _ := cmd.Flags().GetString("mode")
			filter, _ := cmd.Flags().GetString("filter")

			logger := buildLogger(cmd)
			mode, err := livestream.ParseMode(modeName)
			if err != nil {
				return err
			}
			dial, err := monitorrun.NewDialer(endpoint, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			eng := livestream.New(dial, livestream.Options{Logger: logger})
			defer eng.Close()
			sub := eng.Subscribe()
			defer sub.Close()

			target := livestream.Target{EntityPath: entity, Subscription: subscription, DeadLetter: deadLetter}
			if err := eng.StartStream(ctx, target, mode, livestream.WithFilter(filter)); err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for {
				select {
				case <-ctx.Done():
					return eng.StopStream(context.Background())
				case ev, more := <-sub.Events():
					if !more {
						return nil
					}
					switch ev.Kind {
					case livestream.EventMessage:
						_ = enc.Encode(ev.Message)
					case livestream.EventError:
						logger.Warn("stream error", logpkg.Err(ev.Err))
					}
				}
			}
		},
	}
	cmd.Flags().String("endpoint", os.Getenv("BUSLANE_ENDPOINT"), "Broker connection string, or memory: for demo mode")
	cmd.Flags().String("entity", "", "Queue name, or topic name with --subscription")
	cmd.Flags().String("subscription", "", "Topic subscription name")
	cmd.Flags().Bool("dead-letter", false, "Watch the dead-letter sub-queue")
	cmd.Flags().String("mode", "poll", "Delivery strategy: poll|push")
	cmd.Flags().String("filter", "", "CEL filter expression")
	_ = cmd.MarkFlagRequired("entity")
	addLogFlags(cmd)
	return cmd
}

func newCapturesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "captures",
		Short: "Browse locally captured messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			entity, _ := cmd.Flags().GetString("entity")
			limit, _ := cmd.Flags().GetInt("limit")
			reverse, _ := cmd.Flags().GetBool("reverse")
			if dataDir == "" {
				dataDir = cfgpkg.DefaultDataDir()
			}
			db, err := pebblestore.Open(pebblestore.Options{
				DataDir: filepath.Join(dataDir, "captures"),
				Fsync:   pebblestore.FsyncModeNever,
			})
			if err != nil {
				return err
			}
			defer db.Close()
			rec := capture.NewRecorder(db)
			if entity == "" {
				entities, err := rec.Entities()
				if err != nil {
					return err
				}
				for _, e := range entities {
					fmt.Println(e)
				}
				return nil
			}
			entries, err := rec.Read(entity, capture.ReadOptions{Limit: limit, Reverse: reverse})
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%d\t%s\n", e.Seq, e.Payload)
			}
			return nil
		},
	}
	cmd.Flags().String("data-dir", "", "Capture data directory (default OS application data dir)")
	cmd.Flags().String("entity", "", "Entity path to read; omit to list entities")
	cmd.Flags().Int("limit", 50, "Maximum entries to print (0 = all)")
	cmd.Flags().Bool("reverse", false, "Newest first")
	addLogFlags(cmd)
	return cmd
}
