// Command ink-cli is a small interactive client for ink servers. It exposes
// the driver operations as subcommands plus a line-oriented shell.
//
// Connection settings come from flags, with defaults from INK_ENDPOINTS and
// INK_DATABASE (a .env file in the working directory is honored).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	ink "github.com/inkdb/ink-go"
)

var (
	flagEndpoints []string
	flagDatabase  string
	flagTimeout   time.Duration
	flagVerbose   bool

	client *ink.Client
	db     *ink.Database
)

var rootCmd = &cobra.Command{
	Use:   "ink-cli",
	Short: "interactive client for ink servers",
	Long: `ink-cli connects to an ink server set and runs driver operations
against one database. The first endpoint is treated as the primary.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupClient,
	PersistentPostRun: func(*cobra.Command, []string) {
		if client != nil {
			client.Close()
		}
	},
}

func setupClient(cmd *cobra.Command, _ []string) error {
	level := hclog.Warn
	if flagVerbose {
		level = hclog.Debug
	}
	var err error
	client, err = ink.NewClient(ink.Config{
		Endpoints: flagEndpoints,
		Logger:    hclog.New(&hclog.LoggerOptions{Name: "ink-cli", Level: level}),
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	db = client.Database(flagDatabase)
	return nil
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), flagTimeout)
}

func parseDoc(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("invalid document %q: %w", s, err)
	}
	return doc, nil
}

func printDoc(doc map[string]any) {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", doc)
		return
	}
	fmt.Println(string(out))
}

var findCmd = &cobra.Command{
	Use:   "find <collection> [filter-json]",
	Short: "List the documents of a collection",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		filter := map[string]any{}
		if len(args) == 2 {
			var err error
			if filter, err = parseDoc(args[1]); err != nil {
				return err
			}
		}
		ctx, cancel := opContext()
		defer cancel()

		start := time.Now()
		docs, err := db.Find(ctx, args[0], filter, nil)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			printDoc(doc)
		}
		fmt.Printf("%d document(s) (took %v)\n", len(docs), time.Since(start))
		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <collection> <doc-json>...",
	Short: "Insert one or more documents",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		docs := make([]map[string]any, 0, len(args)-1)
		for _, arg := range args[1:] {
			doc, err := parseDoc(arg)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		ctx, cancel := opContext()
		defer cancel()

		start := time.Now()
		if err := db.Insert(ctx, args[0], docs, nil); err != nil {
			return err
		}
		fmt.Printf("inserted %d document(s) (took %v)\n", len(docs), time.Since(start))
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <collection> <selector-json> <update-json>",
	Short: "Update the documents matching a selector",
	Args:  cobra.ExactArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		selector, err := parseDoc(args[1])
		if err != nil {
			return err
		}
		update, err := parseDoc(args[2])
		if err != nil {
			return err
		}
		ctx, cancel := opContext()
		defer cancel()

		if err := db.Update(ctx, args[0], selector, update, nil); err != nil {
			return err
		}
		fmt.Println("updated")
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <collection> <selector-json>",
	Short: "Remove the documents matching a selector",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		selector, err := parseDoc(args[1])
		if err != nil {
			return err
		}
		ctx, cancel := opContext()
		defer cancel()

		if err := db.Remove(ctx, args[0], selector, nil); err != nil {
			return err
		}
		fmt.Println("removed")
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <collection> [filter-json]",
	Short: "Count the documents matching a filter",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		var filter map[string]any
		if len(args) == 2 {
			var err error
			if filter, err = parseDoc(args[1]); err != nil {
				return err
			}
		}
		ctx, cancel := opContext()
		defer cancel()

		n, err := db.Count(ctx, args[0], filter)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <collection>",
	Short: "Drop a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := opContext()
		defer cancel()
		if err := db.DropCollection(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("dropped")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server and driver statistics",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		ctx, cancel := opContext()
		defer cancel()

		doc, err := db.Stats(ctx)
		if err != nil {
			return err
		}
		printDoc(doc)

		s := client.Stats()
		fmt.Printf("driver: reads=%d writes=%d buffered=%d drained=%d replies=%d flushed=%d\n",
			s.Reads, s.Writes, s.Buffered, s.Drained, s.Replies, s.Flushed)
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the primary answers commands",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		ctx, cancel := opContext()
		defer cancel()

		start := time.Now()
		if err := db.Ping(ctx); err != nil {
			return err
		}
		fmt.Printf("ok (took %v)\n", time.Since(start))
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive shell",
	Args:  cobra.NoArgs,
}

func init() {
	shellCmd.RunE = func(*cobra.Command, []string) error {
		fmt.Printf("connected to %s, database %q\n", strings.Join(flagEndpoints, ","), flagDatabase)
		fmt.Println("commands: find, insert, update, remove, count, drop, stats, ping, quit")

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			if parts[0] == "quit" || parts[0] == "exit" {
				return nil
			}
			if err := runShellCommand(parts[0], parts[1:]); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		}
	}
}

func runShellCommand(name string, args []string) error {
	for _, sub := range rootCmd.Commands() {
		if sub.Name() != name || sub == shellCmd {
			continue
		}
		if err := sub.ValidateArgs(args); err != nil {
			return err
		}
		return sub.RunE(sub, args)
	}
	return fmt.Errorf("unknown command %q", name)
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	defaultEndpoints := strings.Split(envDefault("INK_ENDPOINTS", "localhost:27020"), ",")
	defaultDatabase := envDefault("INK_DATABASE", "test")

	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&flagEndpoints, "endpoints", defaultEndpoints, "server endpoints, primary first")
	flags.StringVar(&flagDatabase, "database", defaultDatabase, "database name")
	flags.DurationVar(&flagTimeout, "timeout", 10*time.Second, "per-operation timeout")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(findCmd, insertCmd, updateCmd, removeCmd, countCmd, dropCmd, statsCmd, pingCmd, shellCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
