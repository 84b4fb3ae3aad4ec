package service

import (
	"context"
	"errors"
	"log"

	"github.com/inkdeck/inkdeck/cache"
	"github.com/inkdeck/inkdeck/store"
)

// LoadPage returns the last saved content for a page, cache-aside: redis
// hit serves directly, a miss falls back to the page store and seeds the
// cache. A page that was never saved returns empty content, not an
// error, so joining a fresh page starts from a blank canvas.
func (s *Service) LoadPage(ctx context.Context, pageId string) ([]byte, error) {
	if err := ValidatePageId(pageId); err != nil {
		return nil, err
	}

	content, err := s.Cache.GetPage(ctx, pageId)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("Page cache read failed for %s: %v", pageId, err)
	}

	content, err = s.Store.LoadPage(ctx, pageId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return []byte{}, nil
		}
		return nil, err
	}

	if err := s.Cache.SetPage(ctx, pageId, content); err != nil {
		log.Printf("Page cache seed failed for %s: %v", pageId, err)
	}

	return content, nil
}
