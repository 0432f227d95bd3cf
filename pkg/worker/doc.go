// Package worker provides a generic, bounded worker pool.
//
// Submit never blocks: a full queue returns ErrQueueFull, which classifies
// as a transient error. Processors that panic are recovered and counted as
// failures, so one bad work item cannot take a worker down.
//
// The rule dispatcher, the fixed-rate scheduler and the attribute pipeline
// all run on pools from this package.
//
//	pool := worker.NewPool("dispatch", 4, 256, func(ctx context.Context, job Job) error {
//	    return job.Run(ctx)
//	}, worker.WithLogger[Job](logger), worker.WithMetricsRegistry[Job](registry))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
package worker
