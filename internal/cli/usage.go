package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/ui"
	"github.com/rileyhilliard/fleetwatch/internal/views"
)

var (
	usageBaseURL string
	usageTop     int
	usageTimeout time.Duration
	usageSystems bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize a running server's fleet status and cluster usage",
	Long: `Query a running fleetwatch server and print the fleet status summary and
the clusters with the most allocation remaining.

Examples:
  fleetwatch usage
  fleetwatch usage --base-url https://host/session/alice/status --top 5
  fleetwatch usage --systems`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(usageBaseURL, usageTimeout)
		return runUsage(cmd.Context(), client, cmd.OutOrStdout(), usageTop, usageSystems)
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().StringVar(&usageBaseURL, "base-url", "http://localhost:8080", "server URL including any prefix")
	usageCmd.Flags().IntVar(&usageTop, "top", 3, "clusters to show, 0 for all")
	usageCmd.Flags().DurationVar(&usageTimeout, "timeout", 30*time.Second, "request timeout")
	usageCmd.Flags().BoolVar(&usageSystems, "systems", false, "also list every system from the status feed")
}

// apiClient reads the JSON API of a running server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// apiError is returned for non-2xx responses.
type apiError struct {
	Status int
	Detail string
}

func (e *apiError) Error() string {
	if e.Detail == "" {
		return http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(e.Status), e.Detail)
}

// get decodes the JSON body of GET path into v.
func (c *apiClient) get(ctx context.Context, path string, v interface{}) error {
	endpoint, err := url.JoinPath(c.base, path)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("%q isn't a valid base URL", c.base),
			"Pass something like --base-url http://localhost:8080")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrRemote,
			"Couldn't reach "+c.base,
			"Check the server is running and --base-url includes any URL prefix")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrRemote, "Couldn't read response from "+endpoint, "")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &msg)
		return &apiError{Status: resp.StatusCode, Detail: msg.Error}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.WrapWithCode(err, errors.ErrParse,
			"Unexpected response from "+endpoint,
			"Check --base-url points at a fleetwatch server")
	}
	return nil
}

type fleetSummaryResponse struct {
	GeneratedAt *string           `json:"generated_at"`
	SourceURL   string            `json:"source_url"`
	FleetStats  views.FleetStats  `json:"fleet_stats"`
	Systems     []model.SystemRow `json:"systems"`
}

type clusterUsageResponse struct {
	GeneratedAt *time.Time             `json:"generated_at"`
	LastError   *string                `json:"last_error"`
	Clusters    []views.ClusterProfile `json:"clusters"`
}

// runUsage prints both sections. A section the server can't serve yet
// (503) or has disabled (404) is reported inline; only transport and
// decoding failures are errors.
func runUsage(ctx context.Context, c *apiClient, out io.Writer, top int, systems bool) error {
	var summary fleetSummaryResponse
	switch err := c.get(ctx, "/api/fleet/summary", &summary); {
	case err == nil:
		fmt.Fprint(out, ui.RenderFleetStats(summary.FleetStats))
		if summary.GeneratedAt != nil {
			fmt.Fprintln(out, ui.MutedStyle().Render("as of "+*summary.GeneratedAt))
		}
		if systems {
			fmt.Fprintln(out)
			fmt.Fprint(out, ui.RenderSystems(summary.Systems))
		}
	case isAPIError(err):
		fmt.Fprintf(out, "%s status feed: %s\n", ui.WarningStyle().Render(ui.SymbolWarning), err)
	default:
		return err
	}
	fmt.Fprintln(out)

	var usage clusterUsageResponse
	switch err := c.get(ctx, "/api/cluster-usage", &usage); {
	case err == nil:
		if usage.LastError != nil {
			fmt.Fprintf(out, "%s last refresh failed: %s\n", ui.WarningStyle().Render(ui.SymbolWarning), *usage.LastError)
		}
		fmt.Fprint(out, ui.RenderUsage(usage.Clusters, top))
	case isAPIError(err):
		fmt.Fprintf(out, "%s cluster usage: %s\n", ui.WarningStyle().Render(ui.SymbolWarning), err)
	default:
		return err
	}
	return nil
}

func isAPIError(err error) bool {
	var apiErr *apiError
	return stderrors.As(err, &apiErr)
}
