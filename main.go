package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/bridge"
	"github.com/lotas/convhub/internal/export"
	"github.com/lotas/convhub/internal/extract"
	"github.com/lotas/convhub/internal/firefox"
	"github.com/lotas/convhub/internal/history"
	"github.com/lotas/convhub/internal/hub"
	"github.com/lotas/convhub/internal/nav"
	"github.com/lotas/convhub/internal/providers"
	"github.com/lotas/convhub/internal/storage"
	"github.com/lotas/convhub/internal/tui"
	"github.com/lotas/convhub/internal/types"
)

const defaultPort = 19717

func main() {
	if dir, err := dataDir(); err == nil {
		applog.Init(dir)
	}
	defer applog.Close()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "sync":
			runSync(os.Args[2:])
			return
		case "list":
			runList(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "extract":
			runExtract(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "nav":
			runNav(os.Args[2:])
			return
		case "profiles":
			runProfiles()
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	fs := flag.NewFlagSet("convhub", flag.ExitOnError)
	port := fs.Int("port", resolvePort(), "WebSocket port for the extension bridge")
	fs.Parse(os.Args[1:])

	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	b := bridge.New(*port)
	go b.ListenAndServe(context.Background())

	h, err := hub.New(db, buildSources(b))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(tui.NewModel(h), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`convhub — AI conversation hub

Usage:
  convhub                                  Start the TUI (default)
    --port <n>           WebSocket port for the extension bridge (default: 19717)

  convhub sync                             Sync providers and print the status line
    --port <n>           WebSocket port (default: 19717)
    --wait <seconds>     How long to wait for the extension to connect (default: 5)
    --service <id>       Sync only this provider

  convhub list                             Print the cached merged list
    --query <text>       Filter by title substring
    --service <id>       Filter to one provider

  convhub export                           Export the cached merged list
    --json               Export as JSON instead of markdown
    --out <file>         Output file path (default: stdout)

  convhub extract <url>                    Fetch a page and extract its content
    --copy               Copy the result to the clipboard

  convhub history list                     List recorded sync revisions
  convhub history diff [rev] [rev2]        Diff two revisions (default: latest two)

  convhub nav                              Print the outline of an open chat tab
    --port <n>           WebSocket port (default: 19717)
    --wait <seconds>     How long to wait for the extension (default: 5)

  convhub profiles                         List Firefox profiles

Environment:
  CONVHUB_PORT      Bridge port (overridden by --port flag)
  CONVHUB_PROFILE   Firefox profile name for the offline session source
  CONVHUB_DB        Database file path (default: ~/.local/share/convhub/convhub.db)
`)
}

func resolvePort() int {
	if v := os.Getenv("CONVHUB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultPort
}

func openDB() (*sql.DB, error) {
	dbPath := os.Getenv("CONVHUB_DB")
	if dbPath == "" {
		var err error
		dbPath, err = storage.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return storage.OpenDB(dbPath)
}

func dataDir() (string, error) {
	if dbPath := os.Getenv("CONVHUB_DB"); dbPath != "" {
		return filepath.Dir(dbPath), nil
	}
	dbPath, err := storage.DefaultDBPath()
	if err != nil {
		return "", err
	}
	return filepath.Dir(dbPath), nil
}

// buildSources wires the provider registry: live sources over the bridge,
// plus the offline session source when a Firefox profile is available.
func buildSources(b *bridge.Bridge) []providers.Source {
	deps := providers.Deps{Browser: b}

	if profile, ok := resolveProfile(); ok {
		deps.SessionTabs = func() ([]types.SessionTab, error) {
			return firefox.ReadSessionFile(profile.Path)
		}
	}
	return providers.BuildRegistry(deps)
}

func resolveProfile() (types.Profile, bool) {
	profiles, err := firefox.DiscoverProfiles()
	if err != nil || len(profiles) == 0 {
		return types.Profile{}, false
	}
	if name := os.Getenv("CONVHUB_PROFILE"); name != "" {
		for _, p := range profiles {
			if p.Name == name {
				return p, true
			}
		}
		return types.Profile{}, false
	}
	return firefox.DefaultProfile(profiles)
}

// waitForExtension blocks until the extension connects or the wait budget
// runs out. Sync still proceeds without it: API and session sources work
// bridgeless.
func waitForExtension(b *bridge.Bridge, seconds int) {
	if seconds <= 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "Waiting for extension on port %d...\n", b.Port())
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	for !b.Connected() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if !b.Connected() {
		fmt.Fprintln(os.Stderr, "No extension connected; tab sources will report needs-tab.")
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	port := fs.Int("port", resolvePort(), "WebSocket port")
	wait := fs.Int("wait", 5, "Seconds to wait for the extension")
	service := fs.String("service", "", "Sync only this provider id")
	fs.Parse(args)

	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	b := bridge.New(*port)
	go b.ListenAndServe(context.Background())
	waitForExtension(b, *wait)

	h, err := hub.New(db, buildSources(b))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	var syncErr error
	if *service != "" {
		syncErr = h.SyncOne(ctx, *service)
	} else {
		syncErr = h.Sync(ctx)
	}
	if syncErr != nil {
		fmt.Fprintf(os.Stderr, "Error syncing: %v\n", syncErr)
		os.Exit(1)
	}

	for _, s := range h.Statuses() {
		fmt.Printf("%-10s %s\n", s.ID, s.Status)
	}
	fmt.Println(h.StatusLine())
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	query := fs.String("query", "", "Filter by title substring")
	service := fs.String("service", "", "Filter to one provider id")
	fs.Parse(args)

	h := cachedHub()
	items := hub.Filter(h.Merged(), *query, *service)
	if len(items) == 0 {
		fmt.Println("No conversations cached. Run 'convhub sync' first.")
		return
	}
	for _, it := range items {
		line := fmt.Sprintf("[%s] %s", it.ServiceID, it.Title)
		if it.URL != "" {
			line += "  " + it.URL
		}
		fmt.Println(line)
	}
}

// cachedHub opens the hub over the cache without touching any live source.
func cachedHub() *hub.Hub {
	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	h, err := hub.New(db, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return h
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "Export as JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fs.Parse(args)

	items := cachedHub().Merged()

	var output string
	var err error
	if *jsonFlag {
		output, err = export.JSON(items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		output = export.Markdown(items)
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(output)
	}
}

func runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	copyFlag := fs.Bool("copy", false, "Copy the result to the clipboard")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: convhub extract <url> [--copy]")
		os.Exit(1)
	}

	res, err := extract.Fetch(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *copyFlag {
		if err := extract.Copy(res); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Copied %q (%s via %s)\n", res.Title, res.SiteType, res.Method)
		return
	}

	if res.Title != "" {
		fmt.Println("# " + res.Title)
		fmt.Println()
	}
	fmt.Println(res.Content)
}

func runHistory(args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		runHistoryList()
	case "diff":
		runHistoryDiff(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown history command %q. Use list or diff.\n", args[0])
		os.Exit(1)
	}
}

func runHistoryList() {
	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	revs, err := storage.ListRevisions(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing revisions: %v\n", err)
		os.Exit(1)
	}
	if len(revs) == 0 {
		fmt.Println("No sync history yet.")
		return
	}
	fmt.Printf("%-5s %6s  %s\n", "REV", "ITEMS", "RECORDED")
	for _, r := range revs {
		fmt.Printf("%5d %6d  %s\n", r.Rev, r.ItemCount, r.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func runHistoryDiff(args []string) {
	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var from, to int
	switch len(args) {
	case 0:
		revs, err := storage.ListRevisions(db)
		if err != nil || len(revs) < 2 {
			fmt.Fprintln(os.Stderr, "Need at least two revisions to diff.")
			os.Exit(1)
		}
		from, to = revs[1].Rev, revs[0].Rev
	case 2:
		from, err = strconv.Atoi(args[0])
		if err == nil {
			to, err = strconv.Atoi(args[1])
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "Usage: convhub history diff [rev] [rev2]")
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "Usage: convhub history diff [rev] [rev2]")
		os.Exit(1)
	}

	result, err := history.DiffRevisions(db, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(history.FormatDiff(result))
}

func runNav(args []string) {
	fs := flag.NewFlagSet("nav", flag.ExitOnError)
	port := fs.Int("port", resolvePort(), "WebSocket port")
	wait := fs.Int("wait", 5, "Seconds to wait for the extension")
	fs.Parse(args)

	b := bridge.New(*port)
	go b.ListenAndServe(context.Background())
	waitForExtension(b, *wait)
	if !b.Connected() {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tabs, err := b.Tabs(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying tabs: %v\n", err)
		os.Exit(1)
	}

	var target *types.Tab
	var host string
	for i, t := range tabs {
		u, perr := url.Parse(t.URL)
		if perr != nil {
			continue
		}
		if _, ok := nav.RuleFor(u.Hostname()); ok {
			if target == nil || t.Active {
				target = &tabs[i]
				host = u.Hostname()
			}
		}
	}
	if target == nil {
		fmt.Fprintln(os.Stderr, "No open tab with a supported chat page.")
		os.Exit(1)
	}

	n := nav.New(b.Pager(target.ID, false), host)
	if err := n.Rescan(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s — %s (%d turns)\n", host, target.Title, len(n.Items()))
	for _, it := range n.Items() {
		marker := "·"
		if it.Role == "user" {
			marker = ">"
		}
		fmt.Printf("  %s %s\n", marker, it.Text)
		for _, h := range it.Headings {
			fmt.Printf("    %s %s\n", strings.Repeat("#", h.Level), h.Text)
		}
	}
}

func runProfiles() {
	profiles, err := firefox.DiscoverProfiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering Firefox profiles: %v\n", err)
		os.Exit(1)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(os.Stderr, "No Firefox profiles found.")
		os.Exit(1)
	}
	for _, p := range profiles {
		suffix := ""
		if p.IsDefault {
			suffix = " [default]"
		}
		fmt.Printf("%s (%s)%s\n", p.Name, p.Path, suffix)
	}
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
