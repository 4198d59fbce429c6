// Command fake-helper is a stand-in for a supervised helper tool. It accepts
// the same flags procwatch passes when spawning a tool and serves a status
// endpoint guarded by the API key.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type status struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Port    int    `json:"port"`
	Uptime  string `json:"uptime"`
}

func main() {
	var (
		port      int
		apiKey    string
		noBrowser bool
		crashIn   time.Duration
	)
	cmd := &cobra.Command{
		Use:           "fake-helper",
		Short:         "Serve /api/status for procwatch sandbox runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(port, apiKey, crashIn)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&port, "port", 3456, "Port to listen on")
	flags.StringVar(&apiKey, "api-key", "", "Key required in the x-api-key header")
	flags.BoolVar(&noBrowser, "no-browser", false, "Accepted for compatibility; nothing is opened")
	flags.DurationVar(&crashIn, "crash-after", 0, "Exit with status 3 after this long (0 = never)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(port int, apiKey string, crashIn time.Duration) error {
	started := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if apiKey != "" && r.Header.Get("x-api-key") != apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status{
			OK:      true,
			Service: "fake-helper",
			Port:    port,
			Uptime:  time.Since(started).Truncate(time.Second).String(),
		})
	})

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	log.WithField("port", port).Info("fake-helper listening")
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var crash <-chan time.Time
	if crashIn > 0 {
		crash = time.After(crashIn)
	}

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
		return srv.Close()
	case <-crash:
		log.Error("fatal: simulated crash")
		os.Exit(3)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}
