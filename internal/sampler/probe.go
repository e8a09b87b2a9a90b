package sampler

import (
	"context"
	"fmt"
	"net"
	"net/http"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5"
)

const (
	MetricTCP      = "tcp"
	MetricHTTP     = "http"
	MetricPostgres = "postgres"
	MetricConsul   = "consul"
)

func up(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// TCPProbe reports whether a TCP connection to target (host:port) can be opened
func TCPProbe(ctx context.Context, target string) (float64, error) {
	if _, _, err := net.SplitHostPort(target); err != nil {
		return 0, fmt.Errorf("invalid tcp target %q: %w", target, err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return 0, nil
	}
	conn.Close()
	return 1, nil
}

// NewHTTPProbe returns a probe that GETs target and treats 2xx and 3xx as up.
// A nil client uses http.DefaultClient; the probe context bounds the request.
func NewHTTPProbe(client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, target string) (float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return 0, fmt.Errorf("invalid http target %q: %w", target, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return 0, nil
		}
		resp.Body.Close()
		return up(resp.StatusCode >= 200 && resp.StatusCode < 400), nil
	}
}

// PostgresProbe connects to the DSN in target and pings the server
func PostgresProbe(ctx context.Context, target string) (float64, error) {
	cfg, err := pgx.ParseConfig(target)
	if err != nil {
		return 0, fmt.Errorf("invalid postgres dsn: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return 0, nil
	}
	defer conn.Close(context.Background())

	return up(conn.Ping(ctx) == nil), nil
}

// NewConsulProbe returns a probe counting the passing instances of the service named
// by target. Failing to reach Consul is an error, not a down service.
func NewConsulProbe(client *consulapi.Client) Probe {
	return func(ctx context.Context, target string) (float64, error) {
		opts := (&consulapi.QueryOptions{}).WithContext(ctx)
		entries, _, err := client.Health().Service(target, "", true, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to query consul health for %s: %w", target, err)
		}
		return float64(len(entries)), nil
	}
}

// NewConsulClient creates a Consul API client for addr
func NewConsulClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return client, nil
}
