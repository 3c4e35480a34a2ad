// Package async runs background work with panic recovery and bounded
// concurrency.
//
// SafeGo starts a single task and logs its error or panic:
//
//	done := async.SafeGo(ctx, log, 0, "config watcher", watch)
//	<-done
//
// Batch fans a slice out to a fixed number of workers and collects errors:
//
//	errs := async.Batch(ctx, ids, 8, "cache warm", 5*time.Second, warmOne)
package async
