package service

import (
	"github.com/inkdeck/inkdeck/cache"
	"github.com/inkdeck/inkdeck/store"
)

type Service struct {
	Store     store.PageStore
	Cache     cache.PageCache
	JWTSecret []byte
}

func NewService(store store.PageStore, cache cache.PageCache, jwtSecret []byte) *Service {
	return &Service{
		Store:     store,
		Cache:     cache,
		JWTSecret: jwtSecret,
	}
}
