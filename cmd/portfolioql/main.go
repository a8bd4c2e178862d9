// portfolioql - read-only SQL over the portfolio tables
// Main entry point for the shell, one-shot queries and the servers

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kruthik-b-s/portfolio/internal/cli"
	"github.com/kruthik-b-s/portfolio/internal/config"
	"github.com/kruthik-b-s/portfolio/pkg/auth"
	"github.com/kruthik-b-s/portfolio/pkg/export"
	"github.com/kruthik-b-s/portfolio/pkg/history"
	"github.com/kruthik-b-s/portfolio/pkg/httpapi"
	"github.com/kruthik-b-s/portfolio/pkg/pgwire"
	tcpnet "github.com/kruthik-b-s/portfolio/pkg/net"
	"github.com/kruthik-b-s/portfolio/pkg/source"
)

var (
	buildDate = "dev"
	cfgFile   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portfolioql",
		Short: "portfolioql - read-only SQL over a portfolio",
		Long: `portfolioql answers SELECT queries over the portfolio tables
(personal_info, skills, blogs, experience). Anything that would modify
data is rejected.

Start the interactive shell:
  portfolioql

Run one query:
  portfolioql query "SELECT skill FROM skills ORDER BY proficiency DESC LIMIT 3"

Serve HTTP, TCP and PostgreSQL protocol clients:
  portfolioql serve --config /path/to/portfolioql.yaml`,
		SilenceUsage: true,
		RunE:         runShell,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	rootCmd.AddCommand(
		versionCmd(),
		initCmd(),
		queryCmd(),
		tablesCmd(),
		serveCmd(),
		passwdCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "portfolioql %s (built %s)\n", cli.Version, buildDate)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "portfolioql.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.CreateDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", path)
			return nil
		},
	}
}

func queryCmd() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run one query and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := a.queryContext(cmd.Context())
			defer cancel()

			res, err := a.engine.Execute(ctx, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			if format == "table" {
				cli.RenderResult(w, res)
				return nil
			}
			ef, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return export.Write(w, res, ef)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result to a file instead of stdout")
	return cmd
}

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables with their row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := source.CountAll(cmd.Context(), a.store, a.registry.Tables())
			if err != nil {
				a.log.Warnw("table count failed", "error", err)
			}
			cli.RenderCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var httpPort, tcpPort, pgPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve queries over HTTP, TCP and the PostgreSQL protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("http-port") {
				a.cfg.Server.HTTPPort = httpPort
			}
			if cmd.Flags().Changed("tcp-port") {
				a.cfg.Server.TCPPort = tcpPort
			}
			if cmd.Flags().Changed("pg-port") {
				a.cfg.Server.PGPort = pgPort
			}
			return a.serve()
		},
	}

	cmd.Flags().IntVar(&httpPort, "http-port", 8080, "HTTP listen port")
	cmd.Flags().IntVar(&tcpPort, "tcp-port", 5480, "TCP listen port")
	cmd.Flags().IntVar(&pgPort, "pg-port", 5433, "PostgreSQL protocol listen port")
	return cmd
}

func passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd [password]",
		Short: "Print a bcrypt hash for server.pg_users",
		Long: `Hash a password for a PostgreSQL protocol login. Without an argument
the password is read from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) > 0 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Debugw("starting shell", "version", cli.Version, "source", a.cfg.Source.Driver)

	repl := cli.NewREPL(a.cfg, a.log, a.engine, history.New(history.DefaultCapacity))
	if err := repl.Run(); err != nil {
		a.log.Errorw("REPL error", "error", err)
		return err
	}
	return nil
}

// serve runs the HTTP, TCP and PostgreSQL protocol servers until SIGINT or
// SIGTERM.
func (a *app) serve() error {
	cfg := a.cfg
	hist := history.New(history.DefaultCapacity)

	httpServer := httpapi.NewServer(httpapi.Config{
		Engine:        a.engine,
		History:       hist,
		Logger:        a.log,
		RatePerMinute: cfg.Server.RatePerMinute,
		RateBurst:     cfg.Server.RateBurst,
		QueryTimeout:  cfg.Source.FetchTimeout(),
	})

	tcpServer := tcpnet.NewServer(tcpnet.ServerConfig{
		Host:         cfg.Server.Host,
		Logger:       a.log,
		Engine:       a.engine,
		QueryTimeout: cfg.Source.FetchTimeout(),
	})
	if err := tcpServer.Start(cfg.Server.TCPPort); err != nil {
		return err
	}
	defer func() { _ = tcpServer.Stop() }()

	users, err := auth.NewUsers(cfg.Server.PGUsers)
	if err != nil {
		return fmt.Errorf("invalid pg_users: %w", err)
	}
	pgServer := pgwire.NewServer(pgwire.ServerConfig{
		Host:         cfg.Server.Host,
		Logger:       a.log,
		Engine:       a.engine,
		Users:        users,
		QueryTimeout: cfg.Source.FetchTimeout(),
	})
	if err := pgServer.Start(cfg.Server.PGPort); err != nil {
		return err
	}
	defer func() { _ = pgServer.Stop() }()

	a.log.Infow("Starting portfolioql",
		"version", cli.Version,
		"source", cfg.Source.Driver,
		"http_port", cfg.Server.HTTPPort,
		"tcp_port", cfg.Server.TCPPort,
		"pg_port", cfg.Server.PGPort,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.log.Infow("Received signal, shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
