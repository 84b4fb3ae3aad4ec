package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/inkdeck/inkdeck/mq"
	"github.com/inkdeck/inkdeck/store"
)

// ThumbnailConsumer drains the thumbnail queue and persists thumbnails
// out of band of the latency-sensitive save path. Best effort: failed
// jobs are left on the queue for redelivery.
type ThumbnailConsumer struct {
	thumbnailQueue mq.MessageQueue
	pageStore      store.PageStore
}

func NewThumbnailConsumer(thumbnailQueue mq.MessageQueue, pageStore store.PageStore) *ThumbnailConsumer {
	return &ThumbnailConsumer{
		thumbnailQueue: thumbnailQueue,
		pageStore:      pageStore,
	}
}

const visibilityTimeout = 30

func (consumer ThumbnailConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := consumer.thumbnailQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("thumbnail consumer receive error: %v", err)
			continue
		}

		if msg == nil {
			continue
		}

		var job ThumbnailJob
		if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
			log.Printf("Invalid thumbnail job, dropping: %v", err)
			consumer.thumbnailQueue.Delete(context.Background(), msg)
			continue
		}

		thumbnail, err := base64.StdEncoding.DecodeString(job.Thumbnail)
		if err != nil {
			log.Printf("Invalid thumbnail encoding for page %s, dropping: %v", job.PageId, err)
			consumer.thumbnailQueue.Delete(context.Background(), msg)
			continue
		}

		// timeout should be a little less than queue visibility timeout
		ctx, cancel := context.WithTimeout(context.Background(), (visibilityTimeout-1)*time.Second)
		err = consumer.pageStore.SaveThumbnail(ctx, job.PageId, thumbnail)
		cancel()

		if err != nil {
			if errors.Is(err, store.ErrConditionFailed) {
				// Page content never saved; the thumbnail has nothing to attach to
				log.Printf("Dropping thumbnail for unsaved page %s", job.PageId)
				consumer.thumbnailQueue.Delete(context.Background(), msg)
			} else {
				log.Printf("Failed to save thumbnail for page %s: %v", job.PageId, err)
			}
			continue
		}

		if err := consumer.thumbnailQueue.Delete(context.Background(), msg); err != nil {
			log.Printf("thumbnail consumer delete error: %v", err)
		}
	}
}
