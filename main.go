// Package main provides the tubevore CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/tubevore/internal/aggregator"
	"github.com/bryan-buckman/tubevore/internal/config"
	"github.com/bryan-buckman/tubevore/internal/database"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/rss"
	"github.com/bryan-buckman/tubevore/internal/server"
	"github.com/bryan-buckman/tubevore/internal/webfetch"
	"github.com/bryan-buckman/tubevore/internal/youtube"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command for the tubevore CLI.
func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:          "tubevore",
		Short:        "Aggregate YouTube channel feeds",
		Long:         "Tubevore merges the public feeds of subscribed YouTube channels into one paginated stream, with Shorts filtering.",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("tubevore version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file read before the environment")

	rootCmd.AddCommand(newServeCmd(&envFile))
	rootCmd.AddCommand(newResolveCmd(&envFile))
	rootCmd.AddCommand(newFeedCmd(&envFile))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// app holds the wired pipeline shared by the commands.
type app struct {
	store      database.Store
	resolver   *youtube.Resolver
	aggregator *aggregator.Aggregator
}

func loadConfig(envFile string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, cfg.Logger(), nil
}

func newClient(cfg config.Config) *webfetch.Client {
	return webfetch.New(
		webfetch.WithUserAgent(cfg.UserAgent),
		webfetch.WithRateLimit(cfg.FetchRPS, cfg.FetchBurst),
	)
}

// newApp wires the store and the fetch pipeline.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := database.Open(ctx, database.Options{
		PostgresURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		DataDir:     cfg.DataDir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := newClient(cfg)
	classifier := youtube.NewClassifier(client, cfg.YouTubeBaseURL, logger)
	fetcher := rss.NewFetcher(client, cfg.YouTubeBaseURL, classifier, logger)

	return &app{
		store:      store,
		resolver:   youtube.NewResolver(client, cfg.YouTubeBaseURL, logger),
		aggregator: aggregator.New(store, fetcher, classifier, logger),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newServeCmd creates the serve subcommand.
func newServeCmd(envFile *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a.store, a.aggregator, a.resolver, cfg.YouTubeBaseURL, logger)
			httpServer := &http.Server{
				Addr:         cfg.Addr,
				Handler:      srv,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 2 * time.Minute,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server started", "addr", cfg.Addr, "store", a.store.DatabaseType())
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("listen: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "error", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides ADDR)")

	return cmd
}

// newResolveCmd creates the resolve subcommand.
func newResolveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <channel url, @handle, video link or id>",
		Short: "Resolve a channel reference to its canonical id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			resolver := youtube.NewResolver(newClient(cfg), cfg.YouTubeBaseURL, logger)
			res, err := resolver.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			title := res.Title
			if title == "" {
				title = "-"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", res.ChannelID, title)
			return nil
		},
	}
}

// newFeedCmd creates the feed subcommand.
func newFeedCmd(envFile *string) *cobra.Command {
	var (
		page     int
		perPage  int
		query    string
		feedType string
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Print a page of the aggregated feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := model.FeedType(feedType)
			if feedType != "" && !t.Valid() {
				return fmt.Errorf("invalid type %q: must be all, video or short", feedType)
			}
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.aggregator.LoadAggregatedFeed(ctx, aggregator.Query{
				Page:    page,
				PerPage: perPage,
				Search:  query,
				Type:    t,
			})
			if err != nil {
				return err
			}
			return printFeed(cmd, result)
		},
	}

	cmd.Flags().IntVarP(&page, "page", "p", 1, "Page number")
	cmd.Flags().IntVarP(&perPage, "per-page", "n", 0, "Items per page (defaults to the stored setting)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Case-insensitive search over titles and descriptions")
	cmd.Flags().StringVarP(&feedType, "type", "t", "", "Filter by type (all, video, short)")

	return cmd
}

func printFeed(cmd *cobra.Command, result *model.PageResult) error {
	out := cmd.OutOrStdout()
	if len(result.Items) == 0 {
		fmt.Fprintln(out, "No items.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range result.Items {
		kind := "video"
		if e.IsShort {
			kind = "short"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.PublishedAt.Local().Format("2006-01-02 15:04"), kind, e.ChannelTitle, e.Title, e.Link)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "page %d, %d of %d items\n", result.Page, len(result.Items), result.Total)
	return nil
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tubevore version %s\n", version)
		},
	}
}
