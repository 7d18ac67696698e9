package probe

import (
	"context"
	"fmt"
	"net/http"
)

// Endpoint checks that something answers HTTP at url. Any status counts as
// reachable since analysis endpoints commonly reject HEAD.
func Endpoint(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Database checks that the database connection is alive.
func Database(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return fmt.Errorf("database not initialized")
		}
		return p.PingContext(ctx)
	}
}
