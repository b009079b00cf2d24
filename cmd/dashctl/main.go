// Command dashctl analyzes route documents offline and follows live trip
// dashboards over WebSocket.
//
//	dashctl analyze -f route.json [-vehicle V1] [-policy policy.yaml] [-map]
//	dashctl watch -trip TRIP-1 [-addr http://localhost:8080] [-vehicle V1] [-token T]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"vrpdash/internal/analytics"
	"vrpdash/internal/config"
	"vrpdash/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.WithError(err).Fatal("dashctl")
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: dashctl analyze|watch [flags]")
	}
	switch args[0] {
	case "analyze":
		return analyze(args[1:], stdin, out)
	case "watch":
		return watch(ctx, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func analyze(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	file := fs.String("f", "-", "route document (JSON); - reads stdin")
	vehicle := fs.String("vehicle", "", "vehicle filter")
	policyPath := fs.String("policy", "", "policy YAML overlay")
	asMap := fs.Bool("map", false, "print the map overlay instead of the dashboard")
	insensitive := fs.Bool("ignore-case", false, "case-insensitive fleet vehicle filter")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	doc, err := model.DecodeDocument(in)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if *asMap {
		return enc.Encode(analytics.BuildMapOverlay(doc, *vehicle))
	}
	policy, err := config.LoadPolicy(*policyPath)
	if err != nil {
		return err
	}
	opts := analytics.DefaultOptions()
	opts.CaseSensitiveVehicleFilter = !*insensitive
	return enc.Encode(analytics.NewEngine(policy, opts).Compute(doc, *vehicle))
}

func watch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "API base URL")
	trip := fs.String("trip", "", "trip id")
	vehicle := fs.String("vehicle", "", "vehicle filter")
	token := fs.String("token", os.Getenv("VRPDASH_TOKEN"), "bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *trip == "" {
		return errors.New("-trip is required")
	}
	wsURL, err := wsEndpoint(*addr, *trip, *vehicle)
	if err != nil {
		return err
	}
	hdr := http.Header{}
	if *token != "" {
		hdr.Set("Authorization", "Bearer "+*token)
	}
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, hdr)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s", wsURL, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer func() { _ = c.Close() }()
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	for {
		var m json.RawMessage
		if err := c.ReadJSON(&m); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(out, string(m)); err != nil {
			return err
		}
	}
}

// wsEndpoint maps an http(s) base URL onto the trip's ws(s) endpoint.
func wsEndpoint(base, trip, vehicle string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/v1/trips/" + trip + "/ws"
	if vehicle != "" {
		u.RawQuery = url.Values{"vehicle": {vehicle}}.Encode()
	}
	return u.String(), nil
}
