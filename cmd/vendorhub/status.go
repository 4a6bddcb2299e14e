// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// ProbeStatus is the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running server",
		Long:  `Query the liveness and readiness probes of a running server's metrics listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "metrics-addr", "127.0.0.1:9100", "metrics and health address of the server")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "probe timeout")

	return cmd
}

// runStatus executes the status command. It fails when any probe is not OK.
func runStatus(ctx context.Context, cmd *cobra.Command, cfg *statusConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client := &http.Client{Timeout: cfg.timeout}
	base := cfg.addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	statuses := []ProbeStatus{
		queryProbe(ctx, client, base, "liveness"),
		queryProbe(ctx, client, base, "readiness"),
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return oops.Wrapf(err, "format status")
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(statuses))
	}

	for _, s := range statuses {
		if !s.OK {
			return oops.Code("SERVER_UNHEALTHY").With("probe", s.Probe).Errorf("%s probe failed", s.Probe)
		}
	}
	return nil
}

func queryProbe(ctx context.Context, client *http.Client, base, probe string) ProbeStatus {
	status := ProbeStatus{Probe: probe}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz/"+probe, nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // body is informational
	status.Status = resp.StatusCode
	status.Body = strings.TrimSpace(string(body))
	status.OK = resp.StatusCode == http.StatusOK
	return status
}

// formatStatusTable formats the probes as a human-readable table.
func formatStatusTable(statuses []ProbeStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t------")
	for _, s := range statuses {
		state := "ok"
		if !s.OK {
			state = "failing"
		}
		detail := s.Body
		if s.Error != "" {
			detail = s.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Probe, state, detail)
	}

	_ = w.Flush()
	return b.String()
}
