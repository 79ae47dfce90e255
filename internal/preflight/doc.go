// Package preflight provides system validation checks so repoqa can
// report environment problems before an index build or server start.
//
// The package validates:
//   - Disk space availability under the data directory (minimum 100MB)
//   - Write permissions in the data directory
//   - File descriptor limits (minimum 1024)
//   - Embedding provider reachability
//   - Vector backend reachability
//   - LLM provider reachability
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
