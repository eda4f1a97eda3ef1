// taskjournalctl is a command-line client for a running taskjournal server.
//
// Usage:
//
//	taskjournalctl token                          Issue a write token
//	taskjournalctl list <collection> [page] [n]   List one page
//	taskjournalctl get <collection> <id>          Show one entry and its etag
//	taskjournalctl create <collection> <json>     Create an entry
//	taskjournalctl delete <collection> <id>       Delete an entry
//	taskjournalctl merge <id> <id>...             Merge tasks
//	taskjournalctl health                         Check /admin/health
//	taskjournalctl reset                          Reset server state
//	taskjournalctl test <file|dir>                Run request scenarios
//	taskjournalctl mcp                            Serve MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/wondertwin-ai/taskjournal/internal/client"
	"github.com/wondertwin-ai/taskjournal/internal/mcp"
	"github.com/wondertwin-ai/taskjournal/internal/scenario"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
)

const defaultURL = "http://localhost:8080"

func main() {
	cmd, args, baseURL := parseArgs(os.Args[1:])

	if cmd == "" || cmd == "help" || cmd == "--help" || cmd == "-h" {
		printUsage()
		if cmd == "" {
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := client.New(baseURL)

	var err error
	switch cmd {
	case "token":
		err = cmdToken(ctx, c)
	case "list":
		err = cmdList(ctx, c, args)
	case "get":
		err = cmdGet(ctx, c, args)
	case "create":
		err = cmdCreate(ctx, c, args)
	case "delete":
		err = cmdDelete(ctx, c, args)
	case "merge":
		err = cmdMerge(ctx, c, args)
	case "health":
		err = cmdHealth(ctx, c)
	case "reset":
		err = cmdReset(ctx, c)
	case "test":
		err = cmdTest(baseURL, args)
	case "mcp":
		err = mcp.NewServer(c, os.Stdin, os.Stdout, twincore.NewLogger(os.Stderr, false)).Serve(context.Background())
	default:
		fmt.Fprintf(os.Stderr, "taskjournalctl: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "taskjournalctl: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs extracts the subcommand, positional args and --url from raw.
func parseArgs(raw []string) (command string, args []string, baseURL string) {
	baseURL = defaultURL
	if u := os.Getenv("TASKJOURNAL_URL"); u != "" {
		baseURL = u
	}

	var filtered []string
	for i := 0; i < len(raw); i++ {
		if raw[i] == "--url" && i+1 < len(raw) {
			baseURL = raw[i+1]
			i++
			continue
		}
		filtered = append(filtered, raw[i])
	}

	if len(filtered) == 0 {
		return "", nil, baseURL
	}
	return filtered[0], filtered[1:], baseURL
}

func printUsage() {
	fmt.Printf(`taskjournalctl: client for a taskjournal server

Usage:
  taskjournalctl [--url <base>] <command> [arguments]

Commands:
  token                          Issue a write token
  list <collection> [page] [n]   List a page of journals or tasks
  get <collection> <id>          Show one entry and its etag
  create <collection> <json>     Create an entry (issues a token first)
  delete <collection> <id>       Delete an entry
  merge <id> <id>...             Merge tasks into a new task
  health                         Check server health
  reset                          Reset server state to its seed
  test <file|dir>                Run YAML or JSON request scenarios
  mcp                            Serve MCP tools over stdin/stdout

Environment:
  TASKJOURNAL_URL   Base URL (default: %s)
`, defaultURL)
}

func parseCollection(s string) (string, error) {
	switch s {
	case "journals", "tasks":
		return s, nil
	}
	return "", fmt.Errorf("unknown collection %q (want journals or tasks)", s)
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdToken(ctx context.Context, c *client.Client) error {
	tok, err := c.IssueToken(ctx)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func cmdList(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: taskjournalctl list <collection> [page] [per_page]")
	}
	collection, err := parseCollection(args[0])
	if err != nil {
		return err
	}
	nums, err := parseIDs(args[1:])
	if err != nil {
		return err
	}
	var opts client.ListOptions
	if len(nums) > 0 {
		opts.Page = nums[0]
	}
	if len(nums) > 1 {
		opts.PerPage = nums[1]
	}

	p, err := c.List(ctx, collection, opts)
	if err != nil {
		return err
	}
	return printJSON(p)
}

func cmdGet(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: taskjournalctl get <collection> <id>")
	}
	collection, err := parseCollection(args[0])
	if err != nil {
		return err
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		return err
	}

	e, err := c.Get(ctx, collection, ids[0])
	if err != nil {
		return err
	}
	fmt.Printf("ETag: %s\n%s\n", e.ETag, e.Body)
	return nil
}

func cmdCreate(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: taskjournalctl create <collection> <json>")
	}
	collection, err := parseCollection(args[0])
	if err != nil {
		return err
	}
	if !json.Valid([]byte(args[1])) {
		return fmt.Errorf("payload is not valid JSON")
	}

	e, err := c.Create(ctx, collection, json.RawMessage(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("Created %s (ETag %s)\n", e.Location, e.ETag)
	return nil
}

func cmdDelete(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: taskjournalctl delete <collection> <id>")
	}
	collection, err := parseCollection(args[0])
	if err != nil {
		return err
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, collection, ids[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted /%s/%d\n", collection, ids[0])
	return nil
}

func cmdMerge(ctx context.Context, c *client.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: taskjournalctl merge <id> <id>...")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	result, err := c.Merge(ctx, ids)
	if err != nil {
		return err
	}
	fmt.Printf("Merged %v into %s\n", result.Merged, result.Location)
	if len(result.Missing) > 0 {
		fmt.Printf("Missing: %v\n", result.Missing)
	}
	return nil
}

func cmdHealth(ctx context.Context, c *client.Client) error {
	ok, msg := c.Health(ctx)
	if !ok {
		return fmt.Errorf("unhealthy: %s", msg)
	}
	fmt.Println(msg)
	return nil
}

func cmdReset(ctx context.Context, c *client.Client) error {
	msg, err := c.Reset(ctx)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// cmdTest runs scenarios without the command timeout; each request carries
// the runner's own.
func cmdTest(baseURL string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: taskjournalctl test <file|dir>")
	}
	scenarios, err := scenario.LoadPath(args[0])
	if err != nil {
		return err
	}

	runner := scenario.NewRunner(baseURL)
	failed := 0
	for _, s := range scenarios {
		res, err := runner.Run(s)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", s.Name, err)
			failed++
			continue
		}
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%s %s (%s)\n", status, res.ScenarioName, res.Duration.Round(time.Millisecond))
		for _, step := range res.Steps {
			if !step.Passed {
				fmt.Printf("    %s: %s\n", step.Name, step.Error)
			}
		}
	}

	fmt.Printf("\n%d/%d scenarios passed\n", len(scenarios)-failed, len(scenarios))
	if failed > 0 {
		return fmt.Errorf("%d scenario(s) failed", failed)
	}
	return nil
}
