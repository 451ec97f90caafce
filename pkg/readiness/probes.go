package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
)

// checkTimeout bounds a single network round trip so a hung dependency
// cannot consume the whole polling budget in one attempt.
const checkTimeout = 5 * time.Second

// Postgres passes once a connection can be opened and "SELECT 1" answered.
func Postgres(connString string) Probe {
	return ProbeFunc(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return fmt.Errorf("error connecting to database: %w", err)
		}
		defer conn.Close(context.WithoutCancel(ctx))

		var one int
		if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("error querying database: %w", err)
		}
		return nil
	})
}

// TCP passes once address accepts a TCP connection.
func TCP(address string) Probe {
	return ProbeFunc(func(ctx context.Context) error {
		dialer := net.Dialer{Timeout: checkTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}

// HTTPStatus passes once a GET on url answers with a 2xx status.
func HTTPStatus(client *http.Client, url string) Probe {
	if client == nil {
		client = &http.Client{Timeout: checkTimeout}
	}
	return ProbeFunc(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Fatal(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
		}
		return nil
	})
}

// NonEmpty passes once count reports at least one item. what names the
// collection in the "not yet" error.
func NonEmpty(what string, count func(ctx context.Context) (int, error)) Probe {
	return ProbeFunc(func(ctx context.Context) error {
		n, err := count(ctx)
		if err != nil {
			return fmt.Errorf("error listing %s: %w", what, err)
		}
		if n == 0 {
			return fmt.Errorf("no %s yet", what)
		}
		return nil
	})
}

// All passes once every probe passes, checked in order. The first failure
// is reported.
func All(probes ...Probe) Probe {
	return ProbeFunc(func(ctx context.Context) error {
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// errNotReady is a generic "not yet" for probes with nothing better to say.
var errNotReady = errors.New("not ready")

// Condition passes once fn returns true.
func Condition(fn func(ctx context.Context) (bool, error)) Probe {
	return ProbeFunc(func(ctx context.Context) error {
		ok, err := fn(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errNotReady
		}
		return nil
	})
}
