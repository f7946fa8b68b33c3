// Package nldbctl implements the command-line client for a running nldb-api.
package nldbctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Database   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// usageError marks failures that exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Run executes one command and returns the process exit code: 0 on success,
// 1 on transport or RPC failure, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	if args == nil {
		// cobra falls back to os.Args for nil
		args = []string{}
	}
	root := newRootCommand(defaults, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintln(stderr)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	return 1
}

func newRootCommand(defaults Options, stdout io.Writer) *cobra.Command {
	client := &rpcClient{}
	root := &cobra.Command{
		Use:           "nldbctl",
		Short:         "Ask questions of an nldb-api server",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(*cobra.Command, []string) error {
			return usageError{errors.New("a command is required")}
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			if defaults.HTTPClient != nil {
				client.http = defaults.HTTPClient
			} else {
				client.http = &http.Client{Timeout: client.timeout}
			}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	flags := root.PersistentFlags()
	flags.StringVar(&client.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "nldb-api base URL")
	flags.StringVar(&client.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.DurationVar(&client.timeout, "timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")
	flags.StringVar(&client.database, "database", defaults.Database, "target data source (default: primary)")

	root.AddCommand(
		healthCommand(client, stdout),
		askCommand(client, stdout),
		simpleCommand(client, stdout, "tables", "List tables of the data source", "schema/tables"),
		simpleCommand(client, stdout, "relationships", "List foreign-key relationships", "schema/relationships"),
		schemaCommand(client, stdout),
		sqlCommand(client, stdout, "validate", "Check SQL against the safety rules", "query/validate"),
		sqlCommand(client, stdout, "explain", "Show the data source's plan for SQL", "query/explain"),
		executeCommand(client, stdout),
		simpleCommand(client, stdout, "metrics", "Show pipeline metrics", "system/metrics"),
		simpleCommand(client, stdout, "info", "Describe the data source", "database/info"),
	)
	return root
}

func healthCommand(client *rpcClient, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server liveness",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := client.get(cmd.Context(), "/health")
			if err != nil {
				return err
			}
			return printJSON(stdout, body)
		},
	}
}

func askCommand(client *rpcClient, stdout io.Writer) *cobra.Command {
	var noExecute, asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a natural language question",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := client.params(map[string]any{
				"question": strings.Join(args, " "),
				"execute":  !noExecute,
				"format":   true,
			})
			var outcome queryOutcome
			if err := client.call(cmd.Context(), "query", params, &outcome); err != nil {
				return err
			}
			if !outcome.Success {
				return outcome.failure()
			}
			if asJSON || outcome.Result.FormattedResponse == "" {
				return printJSON(stdout, outcome.raw)
			}
			_, err := fmt.Fprintln(stdout, outcome.Result.FormattedResponse)
			return err
		},
	}
	cmd.Flags().BoolVar(&noExecute, "no-execute", false, "only translate; do not run the SQL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func schemaCommand(client *rpcClient, stdout io.Writer) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the discovered schema",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return client.callAndPrint(cmd.Context(), stdout, "schema/discovery", client.params(map[string]any{"refresh": refresh}))
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "rediscover instead of using the cached schema")
	return cmd
}

func executeCommand(client *rpcClient, stdout io.Writer) *cobra.Command {
	var format bool
	cmd := &cobra.Command{
		Use:   "execute <sql>",
		Short: "Run a read-only SQL statement",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := client.params(map[string]any{"sql_query": strings.Join(args, " "), "format": format})
			return client.callAndPrint(cmd.Context(), stdout, "query/execute", params)
		},
	}
	cmd.Flags().BoolVar(&format, "format", false, "include a formatted narrative")
	return cmd
}

func sqlCommand(client *rpcClient, stdout io.Writer, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <sql>",
		Short: short,
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := client.params(map[string]any{"sql_query": strings.Join(args, " ")})
			return client.callAndPrint(cmd.Context(), stdout, method, params)
		},
	}
}

func simpleCommand(client *rpcClient, stdout io.Writer, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return client.callAndPrint(cmd.Context(), stdout, method, client.params(nil))
		},
	}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
