// Package upload archives result records to S3-compatible storage.
package upload

import (
	"context"

	"github.com/forcelab/eoltester/pkg/sequence"
)

// Uploader archives one result record to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and
	// writable. Writes a small test object to fail fast on
	// misconfiguration.
	Preflight(ctx context.Context) error

	// Upload writes the result as a JSON object keyed by execution id.
	Upload(ctx context.Context, result *sequence.TestResult) error
}
