package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// TaskFunc runs one task against one host and returns its result.
type TaskFunc func(ctx context.Context, host types.Host) types.ExecutionResult

// runStrategy calls fn once for every host, running at most forks calls
// at once (all hosts at once when forks <= 0), waits for all of them, and
// returns one ExecutionResult per host in host order. It takes no
// strategy argument: a caller that calls it once per task gets linear
// behaviour, every host finishing a task before any host starts the next.
func runStrategy(ctx context.Context, hosts []types.Host, forks int, fn TaskFunc) []types.ExecutionResult {
	if forks <= 0 {
		forks = len(hosts)
	}
	results := make([]types.ExecutionResult, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(forks)

	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			results[i] = fn(gctx, host)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
