package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/kv"
	"github.com/google/uuid"
)

// Priority of a compression job.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
)

// Job is one queued compression task. Jobs are not persisted across
// process restart.
type Job struct {
	ID             string
	UserID         string
	ConversationID string
	Priority       Priority
	CreatedAt      time.Time
	Status         string
}

// Pool defaults.
const (
	DefaultMaxConcurrent = 3
	DefaultQueueSize     = 100

	// minTurnsToCompress: fewer turns than this and a job is a no-op.
	minTurnsToCompress = 6

	// keepTurns is the number of most-recent turns left in the working
	// set after compression (the largest layer window).
	keepTurns = 10

	// l3MinTurns is the minimum remainder for which an L3 summary is
	// worth generating; smaller remainders get only L2/L1.
	l3MinTurns = 8
)

// PoolConfig bounds the compression worker pool.
type PoolConfig struct {
	MaxConcurrent int // in-flight job cap, default 3
	QueueSize     int // queue cap, default 100
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Pool is the background compression coordinator: a bounded priority
// queue drained by a fixed number of concurrent workers. It is the only
// cross-request mutable structure in the memory core; a single mutex
// guards the queue and the active-job counter.
type Pool struct {
	store      kv.Store
	history    HistoryStore
	summarizer *Summarizer
	cfg        PoolConfig
	ttl        time.Duration // summary TTL
	convTTL    time.Duration // turn list TTL after rewrite
	log        *slog.Logger

	mu     sync.Mutex
	queue  []*Job
	active int
	closed bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates the compression pool. Call Start to begin draining.
func NewPool(store kv.Store, history HistoryStore, summarizer *Summarizer, cfg PoolConfig, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if history == nil {
		history = NopHistory{}
	}
	return &Pool{
		store:      store,
		history:    history,
		summarizer: summarizer,
		cfg:        cfg.withDefaults(),
		ttl:        DefaultSummaryTTL,
		convTTL:    DefaultConversationTTL,
		log:        log,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// SetTTLs overrides the summary and turn-list TTLs.
func (p *Pool) SetTTLs(summaryTTL, conversationTTL time.Duration) {
	if summaryTTL > 0 {
		p.ttl = summaryTTL
	}
	if conversationTTL > 0 {
		p.convTTL = conversationTTL
	}
}

// Enqueue adds a compression job. High-priority jobs go to the front of
// the queue. When the queue is full, a high-priority job evicts the
// oldest normal-priority job (and is rejected if none exists); a
// normal-priority job evicts the oldest job outright. Returns false if
// the job was rejected.
func (p *Pool) Enqueue(userID, conversationID string, priority Priority) bool {
	job := &Job{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Priority:       priority,
		CreatedAt:      time.Now(),
		Status:         StatusQueued,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if len(p.queue) >= p.cfg.QueueSize {
		if priority == PriorityHigh {
			evicted := false
			for i, q := range p.queue {
				if q.Priority == PriorityNormal {
					p.queue = append(p.queue[:i], p.queue[i+1:]...)
					p.log.Warn("compression queue full, evicted normal-priority job", "evicted", q.ID)
					evicted = true
					break
				}
			}
			if !evicted {
				p.mu.Unlock()
				p.log.Warn("compression queue full of high-priority jobs, rejecting", "job", job.ID)
				return false
			}
		} else {
			old := p.queue[0]
			p.queue = p.queue[1:]
			p.log.Warn("compression queue full, evicted oldest job", "evicted", old.ID)
		}
	}
	if priority == PriorityHigh {
		p.queue = append([]*Job{job}, p.queue...)
	} else {
		p.queue = append(p.queue, job)
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.log.Info("queued compression job",
		"job", job.ID, "user", userID, "conv", conversationID, "priority", priority)
	return true
}

// QueueLen reports the current queue depth.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Start launches the dispatcher. It returns immediately.
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.dispatch()
}

// Close stops accepting jobs and waits for in-flight work, up to the
// given deadline.
func (p *Pool) Close(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.done)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		p.log.Warn("compression pool shutdown deadline exceeded")
	}
}

// dispatch moves jobs from the queue to workers while respecting the
// concurrency gate. High-priority jobs are always at the front, so a
// plain front-pop preempts normal-priority work without interrupting
// in-flight jobs.
func (p *Pool) dispatch() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		var job *Job
		if p.active < p.cfg.MaxConcurrent && len(p.queue) > 0 {
			job = p.queue[0]
			p.queue = p.queue[1:]
			job.Status = StatusProcessing
			p.active++
		}
		closed := p.closed
		queueEmpty := len(p.queue) == 0
		p.mu.Unlock()

		if job != nil {
			p.wg.Add(1)
			go func(j *Job) {
				defer p.wg.Done()
				p.process(j)
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				select {
				case p.wake <- struct{}{}:
				default:
				}
			}(job)
			continue
		}
		if closed && queueEmpty {
			// In-flight workers are awaited by Close via the WaitGroup.
			return
		}
		if closed {
			// Queue still has drainable jobs; wait for a worker slot.
			<-p.wake
			continue
		}
		select {
		case <-p.wake:
		case <-p.done:
		}
	}
}

// process runs one compression job. Errors are logged, never returned:
// a fresh turn write re-enqueues if compression is still needed.
func (p *Pool) process(job *Job) {
	ctx := context.Background()
	p.log.Info("processing compression job", "job", job.ID, "user", job.UserID, "conv", job.ConversationID)

	turns, err := p.loadTurns(ctx, job.UserID, job.ConversationID)
	if err != nil {
		p.log.Warn("compression load failed", "job", job.ID, "err", err)
		return
	}
	if len(turns) < minTurnsToCompress {
		return
	}

	keep := turns
	var toSummarize []Turn
	if len(turns) > keepTurns {
		keep = turns[len(turns)-keepTurns:]
		toSummarize = turns[:len(turns)-keepTurns]
	}
	if len(toSummarize) == 0 {
		return
	}

	// Largest window first; each produced summary conditions the next
	// smaller level.
	prior := ""
	produced := 0
	for _, level := range []Level{L3, L2, L1} {
		if level == L3 && len(toSummarize) < l3MinTurns {
			continue
		}
		summary := p.summarizer.GenerateLayer(ctx, level, toSummarize, prior)
		if summary == "" {
			continue
		}
		key := summaryKey(job.UserID, job.ConversationID, level)
		if err := p.store.SetEx(ctx, key, p.ttl, summary); err != nil {
			p.log.Warn("summary write failed", "key", key, "err", err)
			continue
		}
		prior = summary
		produced++
	}

	if produced > 0 {
		p.rewriteTurnList(ctx, job.UserID, job.ConversationID, keep)
	}
	p.log.Info("compression job done", "job", job.ID, "summaries", produced, "kept", len(keep))
}

// loadTurns reads up to 100 turns, preferring the persistent store (the
// authoritative view) and falling back to the KV list.
func (p *Pool) loadTurns(ctx context.Context, userID, conversationID string) ([]Turn, error) {
	turns, err := p.history.RecentTurns(ctx, userID, conversationID, DefaultMaxTurns)
	if err == nil && len(turns) > 0 {
		return turns, nil
	}

	entries, err := p.store.LRange(ctx, conversationKey(userID, conversationID), DefaultMaxTurns)
	if err != nil {
		return nil, err
	}
	out := make([]Turn, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var t Turn
		if json.Unmarshal([]byte(entries[i]), &t) == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// rewriteTurnList replaces the working set with the keep set.
// Best-effort: a failure leaves the old list for the next job.
func (p *Pool) rewriteTurnList(ctx context.Context, userID, conversationID string, keep []Turn) {
	key := conversationKey(userID, conversationID)
	if err := p.store.Del(ctx, key); err != nil {
		p.log.Warn("turn list rewrite: delete failed", "key", key, "err", err)
		return
	}
	for _, t := range keep { // chronological, so LPush leaves newest first
		entry, err := json.Marshal(t)
		if err != nil {
			continue
		}
		if err := p.store.LPush(ctx, key, string(entry)); err != nil {
			p.log.Warn("turn list rewrite: push failed", "key", key, "err", err)
			return
		}
	}
	p.store.Expire(ctx, key, p.convTTL)
}
