// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"
)

// fakeService blocks until canceled. The first failures runs return an
// error instead, so tests can watch the supervisor restart it.
type fakeService struct {
	name     string
	failures int32

	runs  atomic.Int32
	exits atomic.Int32
}

func newFakeService(name string) *fakeService {
	return &fakeService{name: name}
}

// failFirst makes the next n runs fail. Call before the tree starts.
func (f *fakeService) failFirst(n int) *fakeService {
	f.failures = int32(n)
	return f
}

func (f *fakeService) Serve(ctx context.Context) error {
	run := f.runs.Add(1)
	defer f.exits.Add(1)

	if run <= f.failures {
		return fmt.Errorf("%s: run %d failed", f.name, run)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeService) String() string { return f.name }
