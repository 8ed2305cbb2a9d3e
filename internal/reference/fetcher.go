package reference

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akzios/bpsr-tools-sub002/internal/combat"
	"github.com/akzios/bpsr-tools-sub002/internal/metrics"
)

// ErrQueueFull is logged (not returned to callers) when Request evicts
// the oldest queued job to make room: the packet worker never blocks on
// this.
var ErrQueueFull = errors.New("reference: fetch queue full, oldest job dropped")

// PlayerRecord is one entry of the external metadata endpoint's
// response.
type PlayerRecord struct {
	PlayerID   uint64 `json:"player_id"`
	Name       string `json:"name"`
	Profession string `json:"profession"`
	FightPoint int64  `json:"fightPoint"`
	MaxHP      int64  `json:"max_hp"`
}

type fetchResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Players []PlayerRecord `json:"players"`
	} `json:"data"`
}

type fetchJob struct {
	uid uint64
	gen uint64
}

// Fetcher is the background reference-metadata worker pool: a bounded
// queue, single-flight de-dup per uid, negative cache, and
// generation-guarded writes back through Dispatch. No pack repo ships a
// dedicated worker-pool library, so a mutex-guarded slice queue plus
// golang.org/x/sync/errgroup workers stands in.
type Fetcher struct {
	client  *http.Client
	url     string
	timeout time.Duration
	negTTL  time.Duration
	cap     int

	dispatch *combat.Dispatcher
	log      *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []fetchJob
	inflight map[uint64]struct{}
	negative map[uint64]time.Time
	closed   bool
}

// NewFetcher constructs a Fetcher. queueCap bounds the pending-job queue;
// beyond it, the oldest queued job is dropped and negative-cached.
func NewFetcher(url string, timeout, negTTL time.Duration, queueCap int, dispatch *combat.Dispatcher, log *zap.Logger) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: timeout},
		url:      url,
		timeout:  timeout,
		negTTL:   negTTL,
		cap:      queueCap,
		dispatch: dispatch,
		log:      log,
		inflight: make(map[uint64]struct{}),
		negative: make(map[uint64]time.Time),
	}
	f.cond = sync.NewCond(&f.mu)

	return f
}

// Request asks the fetcher to resolve uid's metadata in the background.
// It is safe to call from the packet worker: it never blocks on I/O.
func (f *Fetcher) Request(uid uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	if until, cached := f.negative[uid]; cached && time.Now().Before(until) {
		return
	}

	if _, inflight := f.inflight[uid]; inflight {
		return
	}

	gen := f.dispatch.Generation(uid)

	if len(f.queue) >= f.cap {
		dropped := f.queue[0]
		f.queue = f.queue[1:]
		delete(f.inflight, dropped.uid)
		f.negative[dropped.uid] = time.Now().Add(f.negTTL)
		metrics.IncAdvisory("reference_queue_overflow")
		f.log.Warn("reference: queue full, dropped oldest pending fetch",
			zap.Uint64("uid", dropped.uid), zap.Error(ErrQueueFull))
	}

	f.inflight[uid] = struct{}{}
	f.queue = append(f.queue, fetchJob{uid: uid, gen: gen})
	f.cond.Signal()
}

// Run starts n worker goroutines draining the queue until ctx is done.
// Workers inherit ctx as their cancellation token.
func (f *Fetcher) Run(ctx context.Context, n int) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			f.worker(ctx)

			return nil
		})
	}

	<-ctx.Done()

	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()

	return g.Wait()
}

func (f *Fetcher) worker(ctx context.Context) {
	for {
		job, ok := f.next()
		if !ok {
			return
		}

		f.process(ctx, job)
	}
}

// next blocks on the condition variable until a job is queued or the
// fetcher is closed (Run broadcasts closed on ctx cancellation).
func (f *Fetcher) next() (fetchJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.queue) == 0 && !f.closed {
		f.cond.Wait()
	}

	if len(f.queue) == 0 && f.closed {
		return fetchJob{}, false
	}

	job := f.queue[0]
	f.queue = f.queue[1:]

	return job, true
}

func (f *Fetcher) process(ctx context.Context, job fetchJob) {
	defer func() {
		f.mu.Lock()
		delete(f.inflight, job.uid)
		f.mu.Unlock()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	players, err := f.doFetch(reqCtx, job.uid)
	if err != nil {
		metrics.IncAdvisory("reference_fetch_error")
		f.log.Debug("reference: fetch failed", zap.Uint64("uid", job.uid), zap.Error(err))
		f.negativeCache(job.uid)

		return
	}

	for _, p := range players {
		if p.PlayerID != job.uid {
			continue
		}

		if f.dispatch.ApplyReferenceFields(job.uid, job.gen, p.Name, p.Profession, p.FightPoint) {
			return
		}

		f.log.Debug("reference: dropped stale fetch result", zap.Uint64("uid", job.uid))

		return
	}

	metrics.IncAdvisory("reference_fetch_no_match")
	f.negativeCache(job.uid)
}

func (f *Fetcher) negativeCache(uid uint64) {
	f.mu.Lock()
	f.negative[uid] = time.Now().Add(f.negTTL)
	f.mu.Unlock()
}

func (f *Fetcher) doFetch(ctx context.Context, uid uint64) ([]PlayerRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}

	if !parsed.Success {
		return nil, errors.New("upstream reported failure")
	}

	return parsed.Data.Players, nil
}
