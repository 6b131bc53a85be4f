package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fairyhunter13/search-gateway/internal/usecase"
)

func newProbeCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show the gateway's upstream and store health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			rep, err := fetchReport(ctx, http.DefaultClient, addr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			_, err = fmt.Fprintln(out, renderReport(rep))
			if err == nil && rep.OverallStatus == usecase.HealthDown {
				err = fmt.Errorf("gateway reports %s", rep.OverallStatus)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "gateway base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "probe timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw report")
	return cmd
}

// fetchReport reads /api-health. A 503 still carries a report.
func fetchReport(ctx context.Context, c *http.Client, addr string) (usecase.HealthReport, error) {
	var rep usecase.HealthReport
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/api-health", nil)
	if err != nil {
		return rep, fmt.Errorf("op=gatewayctl.probe: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return rep, fmt.Errorf("op=gatewayctl.probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return rep, fmt.Errorf("op=gatewayctl.probe: %w", err)
	}
	if err := json.Unmarshal(body, &rep); err != nil {
		return rep, fmt.Errorf("op=gatewayctl.probe: status %d: %w", resp.StatusCode, err)
	}
	if rep.OverallStatus == "" {
		return rep, fmt.Errorf("op=gatewayctl.probe: status %d: no health report in response", resp.StatusCode)
	}
	return rep, nil
}

func renderReport(rep usecase.HealthReport) string {
	names := make([]string, 0, len(rep.Endpoints))
	for name := range rep.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Target", "Status", "Latency", "Error"})
	for _, name := range names {
		h := rep.Endpoints[name]
		t.AppendRow(table.Row{name, h.Status, fmt.Sprintf("%dms", h.ResponseTimeMS), h.Error})
	}
	t.AppendFooter(table.Row{"overall", rep.OverallStatus, "", rep.Timestamp.Format(time.RFC3339)})
	return t.Render()
}
