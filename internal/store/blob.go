package store

import (
	"context"
	"fmt"
)

// TapeBlobKey and ResultBlobKey are the deterministic blob paths for a
// job, per spec §4.2/§6.
func TapeBlobKey(jobID string) string   { return fmt.Sprintf("proof-jobs/%s/input.tape", jobID) }
func ResultBlobKey(jobID string) string { return fmt.Sprintf("proof-jobs/%s/result.json", jobID) }

// Blob stores tapes and result artifacts, keyed by the deterministic
// paths above.
type Blob interface {
	Put(ctx context.Context, key string, contentType string, data []byte) error
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
}
