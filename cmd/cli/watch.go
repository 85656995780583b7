package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
)

var watchCmd = &cobra.Command{
	Use:   "watch [server-id]",
	Short: "Stream live progress events",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		wsURL, err := eventsURL(serverURL, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		go func() {
			<-interrupt
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}()

		for {
			var ev domain.ProgressEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					fmt.Fprintf(os.Stderr, "Stream closed: %v\n", err)
				}
				return
			}
			fmt.Println(formatEvent(ev))
		}
	},
}

// eventsURL turns the http server URL into the event stream URL
func eventsURL(base string, args []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/events/ws"
	if len(args) == 1 {
		u.RawQuery = url.Values{"server_id": {args[0]}}.Encode()
	}
	return u.String(), nil
}

func formatEvent(ev domain.ProgressEvent) string {
	prefix := ev.Time.Local().Format("15:04:05") + " " + ev.ServerID
	switch ev.Type {
	case domain.EventDirectoryProbed:
		found := "missing"
		if ev.Found {
			found = "found"
		}
		return fmt.Sprintf("%s %s %s %s", prefix, ev.Date, ev.Dir, found)
	case domain.EventFileDownloaded:
		return fmt.Sprintf("%s downloaded %s (%s)", prefix, ev.FileName, humanize.Bytes(uint64(ev.Bytes)))
	case domain.EventFileSkippedExisting:
		return fmt.Sprintf("%s skipped %s (exists)", prefix, ev.FileName)
	case domain.EventFileFailed:
		return fmt.Sprintf("%s failed %s: %s", prefix, ev.FileName, ev.Error)
	case domain.EventDateCompleted:
		return fmt.Sprintf("%s %s done, %d files", prefix, ev.Date, ev.Files)
	case domain.EventDateFailed:
		return fmt.Sprintf("%s %s failed: %s", prefix, ev.Date, ev.Error)
	case domain.EventStateChanged, domain.EventSessionCompleted:
		return fmt.Sprintf("%s %s", prefix, ev.State)
	case domain.EventSessionError:
		return fmt.Sprintf("%s %s: %s", prefix, ev.State, ev.Error)
	}
	return fmt.Sprintf("%s %s", prefix, ev.Type)
}
