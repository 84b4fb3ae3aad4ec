package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"time"

	"github.com/inkdeck/inkdeck/cache"
	"github.com/inkdeck/inkdeck/models"
	"github.com/inkdeck/inkdeck/mq"
	"github.com/inkdeck/inkdeck/store"
)

// SaveResult reports the outcome of a persistence attempt. The hub fans
// it out: a success becomes a "saved" ack to the requester plus a "sync"
// broadcast to room peers; a failure becomes a "save-error" to the
// requester only.
type SaveResult struct {
	PageId       string
	Content      json.RawMessage
	UserId       string
	ConnectionId string
	Timestamp    int64
	Err          error
}

// ThumbnailJob is the queue payload for asynchronous thumbnail
// persistence.
type ThumbnailJob struct {
	PageId    string `json:"pageId"`
	Thumbnail string `json:"thumbnail"`
}

// pageSave tracks the save state machine for one page:
// idle -> pending -> in-flight -> idle. At most one request occupies the
// pending slot and at most one write is in flight per page.
type pageSave struct {
	inFlight    bool
	pending     *models.SaveRequest
	lastSavedAt time.Time
}

type saveDone struct {
	req models.SaveRequest
	err error
}

// SaveCoordinator serializes page saves against the page store. Bursts
// within the minimum inter-save interval are coalesced: newer content
// always supersedes older un-sent pending content for the same page.
type SaveCoordinator struct {
	RequestCh chan models.SaveRequest
	ResultCh  chan SaveResult

	pageStore      store.PageStore
	pageCache      cache.PageCache
	thumbnailQueue mq.MessageQueue

	minIntervalMilliseconds int
	tickerMilliseconds      int

	pages  map[string]*pageSave
	doneCh chan saveDone
}

func NewSaveCoordinator(
	pageStore store.PageStore,
	pageCache cache.PageCache,
	thumbnailQueue mq.MessageQueue,
	minIntervalMilliseconds int,
	tickerMilliseconds int,
) *SaveCoordinator {
	return &SaveCoordinator{
		RequestCh:               make(chan models.SaveRequest, 1024), // buffer to absorb bursts
		ResultCh:                make(chan SaveResult, 256),
		pageStore:               pageStore,
		pageCache:               pageCache,
		thumbnailQueue:          thumbnailQueue,
		minIntervalMilliseconds: minIntervalMilliseconds,
		tickerMilliseconds:      tickerMilliseconds,
		pages:                   make(map[string]*pageSave),
		doneCh:                  make(chan saveDone, 256),
	}
}

// idle page entries older than this are dropped from the state map
const pageStateRetention = 10 * time.Minute

func (c *SaveCoordinator) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(c.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case req := <-c.RequestCh:
			c.handleRequest(req)

		case done := <-c.doneCh:
			c.handleDone(done)

		case <-ticker.C:
			c.tick()

		case <-shutdownCtx.Done():
			c.flushPending()
			return
		}
	}
}

func (c *SaveCoordinator) minInterval() time.Duration {
	return time.Duration(c.minIntervalMilliseconds) * time.Millisecond
}

func (c *SaveCoordinator) handleRequest(req models.SaveRequest) {
	st, ok := c.pages[req.PageId]
	if !ok {
		st = &pageSave{}
		c.pages[req.PageId] = st
	}

	if !st.inFlight && time.Since(st.lastSavedAt) >= c.minInterval() {
		c.startSave(st, req)
		return
	}

	// Coalesce: a newer request replaces whatever was pending
	st.pending = &req
}

func (c *SaveCoordinator) handleDone(done saveDone) {
	st, ok := c.pages[done.req.PageId]
	if !ok {
		return
	}
	st.inFlight = false
	if done.err == nil {
		st.lastSavedAt = time.Now()
	}

	c.ResultCh <- SaveResult{
		PageId:       done.req.PageId,
		Content:      done.req.Content,
		UserId:       done.req.UserId,
		ConnectionId: done.req.ConnectionId,
		Timestamp:    time.Now().UnixMilli(),
		Err:          done.err,
	}
}

func (c *SaveCoordinator) tick() {
	for pageId, st := range c.pages {
		if st.inFlight {
			continue
		}
		if st.pending != nil {
			if time.Since(st.lastSavedAt) >= c.minInterval() {
				req := *st.pending
				st.pending = nil
				c.startSave(st, req)
			}
			continue
		}
		if time.Since(st.lastSavedAt) > pageStateRetention {
			delete(c.pages, pageId)
		}
	}
}

// startSave moves the page to in-flight and persists on a separate
// goroutine: the store call is the only suspension point and must not
// stall the coordinator loop.
func (c *SaveCoordinator) startSave(st *pageSave, req models.SaveRequest) {
	st.inFlight = true
	go func() {
		c.doneCh <- saveDone{req: req, err: c.persist(req)}
	}()
}

func (c *SaveCoordinator) persist(req models.SaveRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.pageStore.SavePage(ctx, req.PageId, req.Content); err != nil {
		return err
	}

	// Write-through so late joiners load the saved content from cache
	if err := c.pageCache.SetPage(ctx, req.PageId, req.Content); err != nil {
		log.Printf("Failed to cache page %s after save: %v", req.PageId, err)
	}

	if len(req.Thumbnail) > 0 && c.thumbnailQueue != nil {
		job := ThumbnailJob{
			PageId:    req.PageId,
			Thumbnail: base64.StdEncoding.EncodeToString(req.Thumbnail),
		}
		if jobBytes, err := json.Marshal(job); err == nil {
			if err := c.thumbnailQueue.Send(ctx, string(jobBytes)); err != nil {
				log.Printf("Failed to enqueue thumbnail for page %s: %v", req.PageId, err)
			}
		}
	}

	return nil
}

// flushPending persists every pending slot synchronously on shutdown so
// the newest content is not lost. In-flight writes are drained first;
// a flush must never run concurrently with an older write for the same
// page, or the older content could land last.
func (c *SaveCoordinator) flushPending() {
drain:
	for c.anyInFlight() {
		select {
		case done := <-c.doneCh:
			c.handleDone(done)
		case <-time.After(10 * time.Second):
			// persist() is bounded by its own timeout, so this only
			// trips if a save goroutine is wedged
			log.Printf("Gave up waiting for in-flight saves during shutdown")
			break drain
		}
	}

	for _, st := range c.pages {
		if st.pending == nil {
			continue
		}
		req := *st.pending
		st.pending = nil
		err := c.persist(req)
		if err != nil {
			log.Printf("Final flush failed for page %s: %v", req.PageId, err)
		}

		select {
		case c.ResultCh <- SaveResult{
			PageId:       req.PageId,
			Content:      req.Content,
			UserId:       req.UserId,
			ConnectionId: req.ConnectionId,
			Timestamp:    time.Now().UnixMilli(),
			Err:          err,
		}:
		default:
		}
	}
}

func (c *SaveCoordinator) anyInFlight() bool {
	for _, st := range c.pages {
		if st.inFlight {
			return true
		}
	}
	return false
}
