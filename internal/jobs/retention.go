package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MessagePruner deletes stored messages created before a cutoff.
type MessagePruner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// RetentionJob periodically deletes messages older than the retention period.
type RetentionJob struct {
	messages  MessagePruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func NewRetentionJob(messages MessagePruner, retention, interval time.Duration) *RetentionJob {
	return &RetentionJob{
		messages:  messages,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("message retention job started")
}

// Stop waits for a sweep in progress to finish.
func (j *RetentionJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("message retention job stopped")
	})
}

func (j *RetentionJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *RetentionJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	count, err := j.messages.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune messages")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Time("before", cutoff).Msg("pruned messages")
	}
}
