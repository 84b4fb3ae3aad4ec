package api

import (
	"context"
	"net/http"

	"github.com/inkdeck/inkdeck/api/ws"
	"github.com/inkdeck/inkdeck/cache"
	"github.com/inkdeck/inkdeck/mq"
	"github.com/inkdeck/inkdeck/rooms"
	"github.com/inkdeck/inkdeck/service"
	"github.com/inkdeck/inkdeck/store"
	"github.com/inkdeck/inkdeck/worker"
)

// Save throttle: at most one persisted write per page per window
const (
	saveMinIntervalMilliseconds = 500
	saveTickerMilliseconds      = 50
)

type SyncAPI struct {
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewSyncAPI(
	pageStore store.PageStore,
	pageCache cache.PageCache,
	thumbnailQueue mq.MessageQueue,
	jwtSecret []byte,
	shutdownCtx context.Context,
) *SyncAPI {
	svc := service.NewService(pageStore, pageCache, jwtSecret)

	coordinator := worker.NewSaveCoordinator(pageStore, pageCache, thumbnailQueue, saveMinIntervalMilliseconds, saveTickerMilliseconds)
	go coordinator.Run(shutdownCtx)

	thumbnailConsumer := worker.NewThumbnailConsumer(thumbnailQueue, pageStore)
	go thumbnailConsumer.Run(shutdownCtx)

	registry := rooms.NewRegistry()
	hub := ws.NewHub(registry, svc, coordinator)
	go hub.Run(shutdownCtx)

	wsHandler := ws.NewHandler(svc, hub)

	return &SyncAPI{
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}
}

func (syncAPI *SyncAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wsUpgrader := syncAPI.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		syncAPI.wsHandler.ServeWS(wsUpgrader, w, r, syncAPI.shutdownCtx)
	})
}
