// Command pharmacy-cli drives the notification API from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/apimgr/pharmacy/src/client"
	"github.com/apimgr/pharmacy/src/server/service"
)

var (
	// Version is injected at build time via ldflags
	Version = "dev"
)

const usage = `pharmacy-cli - notification client

Usage:
  pharmacy-cli [flags] <command> [args]

Commands:
  list               List notifications
  unread             Print the unread count
  read <id>          Mark a notification read
  read-all           Mark every notification read
  dismiss <id>       Dismiss a notification
  dismiss-all        Dismiss every notification
  scan [--force]     Trigger an inventory health check
  status             Show the scan schedule ledger
  watch              Stream notification events until interrupted
  version            Print the client version

Flags:
  --server URL       Server base URL (default http://localhost:8080,
                     env PHARMACY_SERVER)
  --user ID          Acting user ID (env PHARMACY_USER_ID)
  --json             Print raw JSON responses
`

func main() {
	server := flag.String("server", envOr("PHARMACY_SERVER", "http://localhost:8080"), "server base URL")
	user := flag.Int("user", envInt("PHARMACY_USER_ID", 1), "acting user ID")
	asJSON := flag.Bool("json", false, "print raw JSON")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(client.ExitError)
	}

	c := client.New(*server, *user)
	if err := dispatch(c, args, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var cliErr *client.CLIError
		if errors.As(err, &cliErr) {
			os.Exit(cliErr.Code)
		}
		os.Exit(client.ExitError)
	}
}

func dispatch(c *client.Client, args []string, asJSON bool) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "list":
		return cmdList(c, rest, asJSON)
	case "unread":
		count, err := c.UnreadCount()
		if err != nil {
			return err
		}
		fmt.Println(count)
		return nil
	case "read":
		if len(rest) != 1 {
			return fmt.Errorf("usage: read <id>")
		}
		n, err := c.MarkRead(rest[0])
		if err != nil {
			return err
		}
		return printResult(n, asJSON, "Marked read: %s\n", n.ID)
	case "read-all":
		count, err := c.MarkAllRead()
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d notification(s) read\n", count)
		return nil
	case "dismiss":
		if len(rest) != 1 {
			return fmt.Errorf("usage: dismiss <id>")
		}
		if err := c.Dismiss(rest[0]); err != nil {
			return err
		}
		fmt.Printf("Dismissed %s\n", rest[0])
		return nil
	case "dismiss-all":
		count, err := c.DismissAll()
		if err != nil {
			return err
		}
		fmt.Printf("Dismissed %d notification(s)\n", count)
		return nil
	case "scan":
		return cmdScan(c, rest, asJSON)
	case "status":
		status, err := c.HealthCheckStatus()
		if err != nil {
			return err
		}
		return printJSON(status)
	case "watch":
		return cmdWatch(c)
	case "version":
		fmt.Println("pharmacy-cli " + Version)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try --help)", cmd)
	}
}

func cmdList(c *client.Client, args []string, asJSON bool) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "page offset")
	unread := fs.Bool("unread", false, "unread only")
	category := fs.String("category", "", "filter by category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	page, err := c.Notifications(client.ListOptions{
		Limit:      *limit,
		Offset:     *offset,
		UnreadOnly: *unread,
		Category:   *category,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(page)
	}
	for _, n := range page.Rows {
		marker := " "
		if !n.IsRead {
			marker = "*"
		}
		fmt.Printf("%s %-26s  [%s/%d]  %s\n", marker, n.ID, n.Category, n.Priority, n.Title)
	}
	fmt.Printf("%d of %d (has_more=%v)\n", len(page.Rows), page.TotalCount, page.HasMore)
	return nil
}

func cmdScan(c *client.Client, args []string, asJSON bool) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	force := fs.Bool("force", false, "bypass the debounce")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := c.RunHealthCheck(*force)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(result)
	}
	if result.Skipped {
		fmt.Printf("Scan skipped: %s\n", result.Reason)
		return nil
	}
	fmt.Printf("Scan complete: %d notification(s) created (email sent: %v)\n",
		result.TotalNotifications, result.EmailSent)
	return nil
}

func cmdWatch(c *client.Client) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "Watching for notifications (Ctrl-C to stop)...")
	return c.Watch(ctx, func(ev service.NotificationEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Println(string(data))
	})
}

func printResult(v interface{}, asJSON bool, format string, args ...interface{}) error {
	if asJSON {
		return printJSON(v)
	}
	fmt.Printf(format, args...)
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
