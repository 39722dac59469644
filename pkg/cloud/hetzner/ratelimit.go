// pkg/cloud/hetzner/ratelimit.go

package hetzner

import (
	"context"
	"time"

	cerr "github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// The Cloud API allows 3600 requests an hour per project. Mutating calls
// are paced below that; polling is already paced by its interval.
const (
	requestsPerHour = 3600
	requestBurst    = 10
)

var mutations = rate.NewLimiter(rate.Every(time.Hour/requestsPerHour), requestBurst)

// throttle blocks until the next mutating request may be sent.
func throttle(ctx context.Context) error {
	if err := mutations.Wait(ctx); err != nil {
		return cerr.Wrap(err, "waiting for the Hetzner API rate limit")
	}
	return nil
}
