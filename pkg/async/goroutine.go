package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SafeGo runs fn in a goroutine with panic recovery and error logging.
// A positive timeout bounds fn's context. The returned channel is closed
// when fn has returned.
//
// Example:
//
//	SafeGo(ctx, log, 0, "config watcher", func(ctx context.Context) error {
//	    return config.Watch(ctx, path, log, onChange)
//	})
func SafeGo(parentCtx context.Context, log *logrus.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	if log == nil {
		log = logrus.StandardLogger()
	}
	done := make(chan struct{})

	go func() {
		defer close(done)

		ctx, cancel := parentCtx, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		}
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()

	return done
}

// Batch calls fn for every item with at most workers calls in flight and
// returns every error, each wrapped with the task name. A positive timeout
// bounds each call. Items not yet started when ctx ends are skipped and
// reported as ctx.Err().
//
// Example:
//
//	errs := Batch(ctx, userIDs, 8, "cache warm", 5*time.Second, func(ctx context.Context, id int64) error {
//	    return warm(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, fmt.Errorf("%s: %w", taskName, err))
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		if ctx.Err() != nil {
			record(ctx.Err())
			continue
		}
		g.Go(func() error {
			callCtx, cancel := ctx, context.CancelFunc(func() {})
			if timeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()

			if err := fn(callCtx, item); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs
}
