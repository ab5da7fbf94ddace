package duckdb

import (
	"context"
	"runtime"
	"sync"
)

// workResult is the output of fn for items[Seq].
type workResult[T any] struct {
	Seq  int
	Item T
	Err  error
}

// parallelApply runs fn over items on a bounded pool of workers and sends
// each outcome on the returned channel as soon as it is ready. Block index
// construction uses it for the per-block span queries. Workers <= 0 selects
// runtime.NumCPU(). Items not started before ctx ends report ctx.Err().
func parallelApply[T any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (T, error)) <-chan workResult[T] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, max(len(items), 1))

	seqs := make(chan int, len(items))
	for i := range items {
		seqs <- i
	}
	close(seqs)

	results := make(chan workResult[T], 2*workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range seqs {
				r := workResult[T]{Seq: i, Err: ctx.Err()}
				if r.Err == nil {
					r.Item, r.Err = fn(ctx, items[i])
				}
				results <- r
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// inOrder passes the n results of parallelApply to fn in input order, so
// measured block keys come out in the order they were laid out. When fn
// fails the rest of the channel is drained and the error returned.
func inOrder[T any](results <-chan workResult[T], n int, fn func(workResult[T]) error) error {
	ready := make([]bool, n)
	buf := make([]workResult[T], n)
	next := 0
	for r := range results {
		buf[r.Seq], ready[r.Seq] = r, true
		for ; next < n && ready[next]; next++ {
			if err := fn(buf[next]); err != nil {
				for range results {
				}
				return err
			}
		}
	}
	return nil
}
