package main

import "github.com/routed-project/routed/internal/errs"

// exitCodeFor maps a command's returned error to spec §6's exit codes:
// 0 normal, 1 configuration error, 2 fatal runtime (socket bind failed,
// no interfaces).
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(*errs.Error); ok && e.Kind == errs.Config {
		return 1
	}
	return 2
}
