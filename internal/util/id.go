package util

import "github.com/google/uuid"

// NewID returns a random UUID string. Upload ids generated here are the join
// key between the metadata store and the blob store.
func NewID() string {
	return uuid.NewString()
}
