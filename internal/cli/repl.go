// Package cli provides the interactive shell for portfolioql
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/kruthik-b-s/portfolio/internal/config"
	"github.com/kruthik-b-s/portfolio/internal/logger"
	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/export"
	"github.com/kruthik-b-s/portfolio/pkg/history"
	"github.com/kruthik-b-s/portfolio/pkg/source"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// Version is the portfolioql release reported by the shell and the CLI.
const Version = "0.3.0"

const (
	prompt          = "portfolio> "
	multilinePrompt = "        -> "
)

// REPL implements the Read-Eval-Print Loop for portfolioql
type REPL struct {
	config  *config.Config
	log     *logger.Logger
	engine  *sql.Engine
	history *history.History
	out     io.Writer
	rl      *readline.Instance

	// last successful result, the target of \export
	last *sql.Result
}

// NewREPL creates a new REPL instance
func NewREPL(cfg *config.Config, log *logger.Logger, engine *sql.Engine, hist *history.History) *REPL {
	if hist == nil {
		hist = history.New(history.DefaultCapacity)
	}
	return &REPL{
		config:  cfg,
		log:     log,
		engine:  engine,
		history: hist,
		out:     os.Stdout,
	}
}

// SetOutput redirects everything the shell prints.
func (r *REPL) SetOutput(w io.Writer) {
	r.out = w
}

// Run starts the REPL loop
func (r *REPL) Run() error {
	rlConfig := &readline.Config{
		Prompt:                 prompt,
		HistoryFile:            getHistoryFile(),
		DisableAutoSaveHistory: true,
		InterruptPrompt:        "^C",
		EOFPrompt:              "exit",
		AutoComplete:           newCompleter(r.engine.Registry()),
	}

	rl, err := readline.NewEx(rlConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	r.printWelcome()

	var multilineBuffer strings.Builder
	inMultiline := false

	for {
		if inMultiline {
			rl.SetPrompt(multilinePrompt)
		} else {
			rl.SetPrompt(prompt)
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if inMultiline {
				multilineBuffer.Reset()
				inMultiline = false
				fmt.Fprintln(r.out, "^C")
			}
			continue
		} else if err == io.EOF {
			fmt.Fprintln(r.out, "\nGoodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		multilineBuffer.WriteString(line)
		fullInput := multilineBuffer.String()

		// Backslash commands complete immediately, SQL once it ends with ;
		if strings.HasPrefix(fullInput, "\\") || strings.HasSuffix(fullInput, ";") {
			_ = rl.SaveHistory(fullInput)
			if r.processCommand(fullInput) == commandExit {
				fmt.Fprintln(r.out, "Goodbye!")
				return nil
			}
			multilineBuffer.Reset()
			inMultiline = false
		} else {
			multilineBuffer.WriteString(" ")
			inMultiline = true
		}
	}
}

type commandResult int

const (
	commandOK commandResult = iota
	commandExit
	commandError
)

func (r *REPL) processCommand(input string) commandResult {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, "\\") {
		return r.handleBackslashCommand(input)
	}

	switch strings.ToUpper(strings.TrimSpace(strings.TrimSuffix(input, ";"))) {
	case "EXIT", "QUIT":
		return commandExit
	case "HELP":
		r.printHelp()
		return commandOK
	}

	return r.runQuery(input)
}

// runQuery executes input, prints the result table and records it in history
func (r *REPL) runQuery(input string) commandResult {
	r.history.Add(input)

	ctx := context.Background()
	if timeout := r.config.Source.FetchTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := r.engine.Execute(ctx, input)
	if err != nil {
		r.log.Debugw("query failed", "kind", sql.KindName(err), "error", err)
		fmt.Fprintf(r.out, "ERROR: %v\n", err)
		return commandError
	}

	r.last = res
	RenderResult(r.out, res)
	return commandOK
}

func (r *REPL) handleBackslashCommand(input string) commandResult {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return commandOK
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "\\q", "\\quit", "\\exit":
		return commandExit

	case "\\?", "\\help":
		r.printHelp()
		return commandOK

	case "\\dt", "\\tables":
		return r.listTables()

	case "\\d":
		if len(args) == 0 {
			fmt.Fprintln(r.out, "Usage: \\d <table_name>")
			return commandError
		}
		return r.describeTable(args[0])

	case "\\quick":
		return r.quickQueries(args)

	case "\\history":
		r.printHistory()
		return commandOK

	case "\\h":
		if len(args) == 0 {
			r.printHistory()
			return commandOK
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintln(r.out, "Usage: \\h <n>")
			return commandError
		}
		query, ok := r.history.Get(n)
		if !ok {
			fmt.Fprintf(r.out, "No history entry %d\n", n)
			return commandError
		}
		fmt.Fprintln(r.out, query)
		return r.runQuery(query)

	case "\\export":
		return r.exportLast(args)

	case "\\status":
		r.printStatus()
		return commandOK

	case "\\config":
		r.printConfig()
		return commandOK

	case "\\clear":
		fmt.Fprint(r.out, "\033[H\033[2J") // ANSI clear screen
		return commandOK

	default:
		fmt.Fprintf(r.out, "Unknown command: %s\n", cmd)
		fmt.Fprintln(r.out, "Type \\? for help")
		return commandError
	}
}

func (r *REPL) listTables() commandResult {
	counts, err := source.CountAll(context.Background(), r.engine.Store(), r.engine.Registry().Tables())
	if err != nil {
		r.log.Warnw("table count failed", "error", err)
	}
	RenderCounts(r.out, counts)
	return commandOK
}

func (r *REPL) describeTable(table string) commandResult {
	table = strings.ToLower(table)
	cols, ok := r.engine.Registry().Columns(table)
	if !ok {
		fmt.Fprintf(r.out, "Table '%s' does not exist\n", table)
		return commandError
	}

	fmt.Fprintf(r.out, "\nTable \"%s\"\n", table)
	for _, col := range cols {
		fmt.Fprintf(r.out, "  %s\n", col)
	}
	fmt.Fprintf(r.out, "\nTry: %s\n\n", catalog.DefaultQuery(table))
	return commandOK
}

// quickQueries lists the canned queries, or runs one when given its number
func (r *REPL) quickQueries(args []string) commandResult {
	queries := catalog.QuickQueries()
	if len(args) == 0 {
		fmt.Fprintln(r.out, "\nQuick Queries")
		fmt.Fprintln(r.out, "=============")
		for i, q := range queries {
			fmt.Fprintf(r.out, "  %d. %-22s %s\n", i+1, q.Label, q.SQL)
		}
		fmt.Fprintln(r.out, "\nRun one with \\quick <n>")
		return commandOK
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(queries) {
		fmt.Fprintf(r.out, "Quick query must be between 1 and %d\n", len(queries))
		return commandError
	}
	fmt.Fprintln(r.out, queries[n-1].SQL)
	return r.runQuery(queries[n-1].SQL)
}

func (r *REPL) printHistory() {
	entries := r.history.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No queries yet")
		return
	}
	for i, q := range entries {
		fmt.Fprintf(r.out, "%3d  %s\n", i+1, q)
	}
}

// exportLast writes the last result to a file. The format follows the
// extension unless given explicitly.
func (r *REPL) exportLast(args []string) commandResult {
	if r.last == nil {
		fmt.Fprintln(r.out, "Nothing to export, run a query first")
		return commandError
	}

	format := export.FormatCSV
	var path string
	if len(args) > 0 {
		path = args[0]
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			if f, err := export.ParseFormat(ext); err == nil {
				format = f
			}
		}
	}
	if len(args) > 1 {
		f, err := export.ParseFormat(args[1])
		if err != nil {
			fmt.Fprintf(r.out, "ERROR: %v\n", err)
			return commandError
		}
		format = f
	}
	if path == "" {
		path = export.FileName(r.last, format)
	}

	if err := export.WriteFile(path, r.last, format); err != nil {
		fmt.Fprintf(r.out, "ERROR: %v\n", err)
		return commandError
	}
	fmt.Fprintf(r.out, "Exported %s to %s\n", rowsText(len(r.last.Rows)), path)
	return commandOK
}

func (r *REPL) printWelcome() {
	fmt.Fprintf(r.out, `
                  _    __       _ _             _
  _ __   ___  _ _| |_ / _| ___ | (_) ___   __ _| |
 | '_ \ / _ \| '_| __| |_ / _ \| | |/ _ \ / _' | |
 | |_) | (_) | | | |_|  _| (_) | | | (_) | (_| | |
 | .__/ \___/|_|  \__|_|  \___/|_|_|\___/ \__, |_|
 |_|                                         |_|

    Version %s - read-only SQL over the portfolio tables
    Type HELP; or \? for available commands

`, Version)
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, `
portfolioql Commands
====================

Queries (read-only):
  SELECT cols FROM table [JOIN ...] [WHERE ...]
         [GROUP BY ...] [HAVING ...] [ORDER BY ...] [LIMIT n [OFFSET m]];

Backslash Commands:
  \dt, \tables                     List tables with row counts
  \d <table>                       Describe a table
  \quick [n]                       List or run the quick queries
  \history                         Show recent queries
  \h <n>                           Re-run history entry n
  \export [file] [csv|json]        Export the last result
  \status                          Show shell status
  \config                          Show configuration
  \clear                           Clear screen
  \?, \help                        Show this help
  \q, \quit                        Exit

Other:
  EXIT; or QUIT;                   Exit the shell
  HELP;                            Show this help

Note: Queries must end with ; (semicolon)
      Backslash commands do not need ;`)
}

func (r *REPL) printStatus() {
	fmt.Fprintln(r.out, "\nportfolioql Status")
	fmt.Fprintln(r.out, "==================")
	fmt.Fprintf(r.out, "Version:    %s\n", Version)
	fmt.Fprintf(r.out, "Source:     %s\n", r.config.Source.Driver)
	fmt.Fprintf(r.out, "Tables:     %s\n", strings.Join(r.engine.Registry().Tables(), ", "))
	fmt.Fprintf(r.out, "History:    %d queries\n", r.history.Len())
	fmt.Fprintf(r.out, "Log Level:  %s\n", r.config.Log.Level)
	fmt.Fprintln(r.out)
}

func (r *REPL) printConfig() {
	fmt.Fprintln(r.out, "\nCurrent Configuration")
	fmt.Fprintln(r.out, "=====================")
	fmt.Fprintf(r.out, "Source:\n")
	fmt.Fprintf(r.out, "  Driver:           %s\n", r.config.Source.Driver)
	fmt.Fprintf(r.out, "  Fixture:          %s\n", orDefault(r.config.Source.FixturePath, "(bundled sample)"))
	fmt.Fprintf(r.out, "  Fetch Timeout:    %s\n", r.config.Source.FetchTimeout())
	fmt.Fprintf(r.out, "\nQuery:\n")
	fmt.Fprintf(r.out, "  Messages:         %s\n", r.config.Query.Messages)
	fmt.Fprintf(r.out, "\nServer:\n")
	fmt.Fprintf(r.out, "  Host:             %s\n", r.config.Server.Host)
	fmt.Fprintf(r.out, "  HTTP Port:        %d\n", r.config.Server.HTTPPort)
	fmt.Fprintf(r.out, "  TCP Port:         %d\n", r.config.Server.TCPPort)
	fmt.Fprintf(r.out, "  PG Port:          %d\n", r.config.Server.PGPort)
	fmt.Fprintf(r.out, "\nLogging:\n")
	fmt.Fprintf(r.out, "  Level:            %s\n", r.config.Log.Level)
	fmt.Fprintf(r.out, "  Format:           %s\n", r.config.Log.Format)
	fmt.Fprintf(r.out, "  Output:           %s\n", r.config.Log.Output)
	fmt.Fprintln(r.out)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func getHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".portfolioql_history")
}

// newCompleter creates an auto-completer for the REPL
func newCompleter(registry *catalog.Registry) *readline.PrefixCompleter {
	tables := make([]readline.PrefixCompleterInterface, 0, len(registry.Tables()))
	for _, name := range registry.Tables() {
		tables = append(tables, readline.PcItem(name))
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("SELECT"),
		readline.PcItem("FROM", tables...),
		readline.PcItem("WHERE"),
		readline.PcItem("JOIN", tables...),
		readline.PcItem("GROUP BY"),
		readline.PcItem("ORDER BY"),
		readline.PcItem("LIMIT"),
		readline.PcItem("HELP"),
		readline.PcItem("EXIT"),
		readline.PcItem("QUIT"),
		readline.PcItem("\\dt"),
		readline.PcItem("\\d", tables...),
		readline.PcItem("\\quick"),
		readline.PcItem("\\history"),
		readline.PcItem("\\h"),
		readline.PcItem("\\export"),
		readline.PcItem("\\status"),
		readline.PcItem("\\config"),
		readline.PcItem("\\clear"),
		readline.PcItem("\\help"),
		readline.PcItem("\\q"),
	)
}
