package store

import (
	"context"
	"errors"
)

// PageStore is the persistence collaborator. The sync core only needs
// whole-page blobs: load on join, save through the coordinator. The
// store serializes writes per page at least as strongly as last write
// wins; no optimistic concurrency is enforced here.
type PageStore interface {
	SavePage(ctx context.Context, pageId string, content []byte) error
	LoadPage(ctx context.Context, pageId string) ([]byte, error)
	SaveThumbnail(ctx context.Context, pageId string, thumbnail []byte) error
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
