package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by GetPage when the page is not cached.
var ErrCacheMiss = errors.New("page not in cache")

// PageCache keeps recently saved page content close to the sync server
// so late joiners don't hit the page store on every load. Write-through
// on save, cache-aside on load.
type PageCache interface {
	GetPage(ctx context.Context, pageId string) ([]byte, error)
	SetPage(ctx context.Context, pageId string, content []byte) error
	InvalidatePage(ctx context.Context, pageId string) error
}
