package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/pkg/logger"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "rtu-fetch",
		Short: "RTU Fetch CLI - station file downloader for FTP servers",
		Long:  `A command-line interface for downloading per-station data files from remote FTP servers.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(runNowCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(watchCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured servers and their session state",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var result struct {
			Servers []serverStatus `json:"servers"`
		}
		mustRequest("GET", "/api/v1/servers", nil, &result)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHOST\tSTATIONS\tSTATE\tPROGRESS\tFILES")
		for _, s := range result.Servers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.Server.ID,
				s.Server.Host,
				truncate(strings.Join(s.Server.Stations, ","), 30),
				s.State,
				progress(s.Stats),
				files(s.Stats))
		}
		w.Flush()
	},
}

var startCmd = &cobra.Command{
	Use:   "start [server-id]",
	Short: "Start a download session for a server",
	Long: `Start a download session for a server.

Select the dates with --from and --to ("2006-01-02 15:04" or "2006-01-02"),
with --at YYMMDDHHMM for a single minute, or with --date for a whole day.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		at, _ := cmd.Flags().GetString("at")
		date, _ := cmd.Flags().GetString("date")

		if from == "" && at == "" && date == "" {
			fmt.Fprintln(os.Stderr, "Error: give --from and --to, --at or --date")
			os.Exit(1)
		}
		req := startRequest{Start: from, End: to, Timestamp: at, Date: date}

		var session sessionResponse
		mustRequest("POST", "/api/v1/servers/"+url.PathEscape(args[0])+"/start", req, &session)

		fmt.Printf("Session started!\n")
		fmt.Printf("ID:     %s\n", session.SessionID)
		fmt.Printf("Server: %s\n", session.ServerID)
		fmt.Printf("Range:  %s\n", session.Range.String())
		fmt.Printf("State:  %s\n", session.State)
	},
}

func controlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [server-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ensureServer()

			var status serverStatus
			mustRequest("POST", "/api/v1/servers/"+url.PathEscape(args[0])+"/"+action, nil, &status)
			fmt.Printf("%s: %s\n", status.Server.ID, status.State)
		},
	}
}

var (
	pauseCmd  = controlCmd("pause", "Pause the running session of a server")
	resumeCmd = controlCmd("resume", "Resume the paused session of a server")
	cancelCmd = controlCmd("cancel", "Cancel the session of a server")
)

var runNowCmd = &cobra.Command{
	Use:   "run-now",
	Short: "Download yesterday's files for every server",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var result struct {
			Sessions []sessionResponse `json:"sessions"`
			Error    string                     `json:"error"`
		}
		mustRequest("POST", "/api/v1/run-now", nil, &result)

		for _, s := range result.Sessions {
			fmt.Printf("Started %s (%s) session %s\n", s.ServerID, s.Range.String(), s.SessionID)
		}
		if result.Error != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", result.Error)
		}
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past and current runs",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		server, _ := cmd.Flags().GetString("server")
		state, _ := cmd.Flags().GetString("state")

		query := url.Values{}
		if server != "" {
			query.Set("server_id", server)
		}
		if state != "" {
			query.Set("state", state)
		}
		path := "/api/v1/runs"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var result struct {
			Runs []domain.Run `json:"runs"`
		}
		mustRequest("GET", path, nil, &result)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSERVER\tTRIGGER\tSTATE\tRANGE\tDOWNLOADED\tSKIPPED\tFAILED\tSIZE\tCREATED")
		for _, r := range result.Runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				truncate(r.ID, 8),
				r.ServerID,
				r.Trigger,
				r.State,
				domain.DateRange{Start: r.RangeStart, End: r.RangeEnd}.String(),
				r.Downloaded,
				r.Skipped,
				r.Failed,
				humanize.Bytes(uint64(r.Bytes)),
				humanize.Time(r.CreatedAt))
		}
		w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var stats domain.RunStats
		mustRequest("GET", "/api/v1/runs/stats", nil, &stats)

		fmt.Println("Run Statistics:")
		fmt.Printf("  Total:       %d\n", stats.Total)
		fmt.Printf("  Running:     %d\n", stats.Running)
		fmt.Printf("  Completed:   %d\n", stats.Completed)
		fmt.Printf("  Cancelled:   %d\n", stats.Cancelled)
		fmt.Printf("  Failed:      %d\n", stats.Failed)
		fmt.Printf("  Downloaded:  %s files (%s)\n", humanize.Comma(stats.Downloaded), humanize.Bytes(uint64(stats.Bytes)))
		fmt.Printf("  Skipped:     %s files\n", humanize.Comma(stats.Skipped))
		fmt.Printf("  File errors: %s\n", humanize.Comma(stats.FileErrors))
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [server-id]",
	Short: "List the remote directory a session would use for a date",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		date, _ := cmd.Flags().GetString("date")

		path := "/api/v1/servers/" + url.PathEscape(args[0]) + "/preview"
		if date != "" {
			path += "?date=" + url.QueryEscape(date)
		}

		var preview remotePreview
		mustRequest("GET", path, nil, &preview)

		fmt.Printf("Server:    %s\n", preview.ServerID)
		fmt.Printf("Date:      %s\n", preview.Date)
		fmt.Printf("Directory: %s (%d files)\n", preview.Dir, len(preview.Files))
		stations := make([]string, 0, len(preview.Matches))
		for station := range preview.Matches {
			stations = append(stations, station)
		}
		sort.Strings(stations)
		for _, station := range stations {
			fmt.Printf("  %s: %s\n", station, strings.Join(preview.Matches[station], ", "))
		}
		if len(preview.Matches) == 0 {
			fmt.Println("  no station matches")
		}
	},
}

var testCmd = &cobra.Command{
	Use:   "test [server-id]",
	Short: "Test the connection and login to a server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		mustRequest("POST", "/api/v1/servers/"+url.PathEscape(args[0])+"/test", nil, nil)
		fmt.Printf("Connection to %s OK\n", args[0])
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "Show the daily log of a category (session, scheduler, error)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		category := string(logger.CategorySession)
		if len(args) == 1 {
			category = args[0]
		}
		date, _ := cmd.Flags().GetString("date")
		limit, _ := cmd.Flags().GetInt("limit")

		query := url.Values{}
		query.Set("limit", fmt.Sprint(limit))
		if date != "" {
			query.Set("date", date)
		}

		var result struct {
			Entries []logger.LogEntry `json:"entries"`
		}
		mustRequest("GET", "/api/v1/logs/"+url.PathEscape(category)+"?"+query.Encode(), nil, &result)

		for _, e := range result.Entries {
			fmt.Printf("%s %-5s %s", e.Timestamp, strings.ToUpper(e.Level), e.Message)
			for k, v := range e.Fields {
				fmt.Printf(" %s=%v", k, v)
			}
			fmt.Println()
		}
	},
}

func init() {
	startCmd.Flags().String("from", "", "Range start (\"2006-01-02 15:04\" or \"2006-01-02\")")
	startCmd.Flags().String("to", "", "Range end (\"2006-01-02 15:04\" or \"2006-01-02\")")
	startCmd.Flags().String("at", "", "Single timestamp YYMMDDHHMM")
	startCmd.Flags().String("date", "", "Whole day YYYY-MM-DD")
	startCmd.MarkFlagsRequiredTogether("from", "to")
	startCmd.MarkFlagsMutuallyExclusive("from", "at", "date")

	runsCmd.Flags().StringP("server", "s", "", "Filter by server id")
	runsCmd.Flags().String("state", "", "Filter by state")
	previewCmd.Flags().StringP("date", "d", "", "Date YYYY-MM-DD (default: yesterday)")
	logsCmd.Flags().StringP("date", "d", "", "Date YYYY-MM-DD (default: today)")
	logsCmd.Flags().IntP("limit", "n", 100, "Number of entries")
}

func progress(stats *sessionStats) string {
	if stats == nil {
		return "-"
	}
	return fmt.Sprintf("%d/%d days", stats.DatesDone+stats.DatesFailed, stats.Dates)
}

func files(stats *sessionStats) string {
	if stats == nil {
		return "-"
	}
	return fmt.Sprintf("%d new, %d skipped, %d failed (%s)",
		stats.Downloaded, stats.Skipped, stats.Failed, humanize.Bytes(uint64(stats.Bytes)))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
