package runner

import "context"

// Runner brings one tenant's persisted data up to the latest known
// migration version. This interface allows for mock implementations in tests.
type Runner interface {
	Run(ctx context.Context, tenantID string) error
}
