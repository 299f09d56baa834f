// Package experiment enumerates quantizer configurations to test, probes the
// result cache, and fans uncached work out across a fixed pool of
// device-bound workers, preserving submission order in the collected results.
package experiment

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shayne-snap/kvgauge/internal/device"
	"github.com/shayne-snap/kvgauge/internal/eval"
	"github.com/shayne-snap/kvgauge/internal/logutil"
	"github.com/shayne-snap/kvgauge/internal/model"
	"github.com/shayne-snap/kvgauge/internal/quant"
	"github.com/shayne-snap/kvgauge/internal/question"
	"github.com/shayne-snap/kvgauge/internal/resultcache"
)

// Pair is one (key-quantizer, value-quantizer) combination to evaluate.
type Pair struct {
	Key   *quant.Quantizer
	Value *quant.Quantizer
}

// NewPair builds a pair from two configs, validating both.
func NewPair(key, value quant.Config) (Pair, error) {
	if key.Cache != quant.KeyCache {
		return Pair{}, fmt.Errorf("experiment: key config targets %s cache", key.Cache)
	}
	if value.Cache != quant.ValueCache {
		return Pair{}, fmt.Errorf("experiment: value config targets %s cache", value.Cache)
	}
	kq, err := quant.New(key)
	if err != nil {
		return Pair{}, err
	}
	vq, err := quant.New(value)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Key: kq, Value: vq}, nil
}

// Experiment is one concrete sweep: it supplies the pairs to evaluate and
// turns the ordered result list into a report. Implementations are selected
// by name at startup.
type Experiment interface {
	Name() string
	ModelName() string
	QuantizerPairs() ([]Pair, error)
	ProcessResult(results []*eval.EvaluationResult) error
}

// Runner owns the per-run resources every experiment shares: the device
// table (which fixes the worker count), the model provider, the shared
// result cache, and the read-only question set.
type Runner struct {
	Devices   []device.Config
	Provider  model.Provider
	Store     *resultcache.Store
	Questions []question.Question
	DType     quant.DType
	Verbose   bool

	// Progress, when set, is called after every finished question across all
	// workers (serialized by the runner).
	Progress func(questionsDone, evaluationsDone, evaluationsTotal int)

	mu            sync.Mutex
	questionsDone int
	evalsDone     int
	evalsTotal    int
}

// Run executes the experiment: cache probe first, dispatch only when at least
// one pair is missing, then hand the full ordered result list to the
// experiment's ProcessResult. The returned slice is in submission order.
func (r *Runner) Run(ctx context.Context, exp Experiment) ([]*eval.EvaluationResult, error) {
	if len(r.Devices) == 0 {
		return nil, fmt.Errorf("experiment: empty device table")
	}
	if len(r.Questions) == 0 {
		return nil, fmt.Errorf("experiment: empty question set")
	}
	pairs, err := exp.QuantizerPairs()
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("experiment %s: no quantizer pairs", exp.Name())
	}

	log := logutil.GetLogger()
	results, allCached := r.allCached(exp, pairs)
	if allCached {
		log.Info("all evaluations cached, skipping dispatch",
			zap.String("experiment", exp.Name()),
			zap.Int("pairs", len(pairs)))
	} else {
		results, err = r.dispatch(ctx, exp, pairs)
		if err != nil {
			return nil, err
		}
	}
	if err := exp.ProcessResult(results); err != nil {
		return nil, err
	}
	return results, nil
}

// allCached probes the cache for every pair. All-or-nothing on purpose: the
// pool setup cost amortizes over the whole sweep, so a single miss triggers a
// full dispatch rather than a partial one.
func (r *Runner) allCached(exp Experiment, pairs []Pair) ([]*eval.EvaluationResult, bool) {
	results := make([]*eval.EvaluationResult, 0, len(pairs))
	for _, p := range pairs {
		ev := eval.NewEvaluator("cpu", eval.Version, exp.ModelName(), r.Questions, p.Key, p.Value, false)
		res, ok, err := ev.IsResultCached(r.Store)
		if err != nil || !ok {
			return nil, false
		}
		results = append(results, res)
	}
	return results, true
}

// dispatch runs every pair across len(Devices) workers. Workers pull indices
// from a shared queue until it drains; results land in a slice indexed by
// submission position, so collection order always matches input order no
// matter which worker finished when.
func (r *Runner) dispatch(ctx context.Context, exp Experiment, pairs []Pair) ([]*eval.EvaluationResult, error) {
	log := logutil.GetLogger()
	n := len(pairs)
	workers := len(r.Devices)
	if workers > n {
		workers = n
	}
	log.Info("dispatching evaluations",
		zap.String("experiment", exp.Name()),
		zap.Int("pairs", n),
		zap.Int("workers", workers),
		zap.Int("chunk", int(math.Ceil(float64(n)/float64(workers)))))

	r.mu.Lock()
	r.questionsDone = 0
	r.evalsDone = 0
	r.evalsTotal = n
	r.mu.Unlock()

	results := make([]*eval.EvaluationResult, n)
	tasks := make(chan int)
	registry := newHandleRegistry(workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(tasks)
		for i := 0; i < n; i++ {
			select {
			case tasks <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		workerID := w
		g.Go(func() error {
			return r.workerLoop(gctx, exp, pairs, results, tasks, registry, workerID)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) workerLoop(ctx context.Context, exp Experiment, pairs []Pair,
	results []*eval.EvaluationResult, tasks <-chan int, registry *handleRegistry, workerID int) error {
	log := logutil.GetLogger()
	dev := r.Devices[workerID]
	for idx := range tasks {
		m, err := registry.handle(ctx, workerID, func() (model.Model, []string, error) {
			return r.Provider.Load(ctx, exp.ModelName(), dev, r.DType)
		})
		if err != nil {
			return fmt.Errorf("worker %d: load model on %s: %w", workerID+1, dev.ID, err)
		}

		p := pairs[idx]
		if err := p.Key.BindDevice(dev.ID, r.DType); err != nil {
			return fmt.Errorf("worker %d: %w", workerID+1, err)
		}
		if err := p.Value.BindDevice(dev.ID, r.DType); err != nil {
			return fmt.Errorf("worker %d: %w", workerID+1, err)
		}

		log.Info("running evaluation",
			zap.Int("index", idx+1),
			zap.Int("of", len(pairs)),
			zap.Int("worker", workerID+1),
			zap.String("device", dev.ID),
			zap.String("key", p.Key.Config().Label()),
			zap.String("value", p.Value.Config().Label()))

		ev := eval.NewEvaluator(dev.ID, eval.Version, exp.ModelName(), r.Questions, p.Key, p.Value, r.Verbose)
		res, err := ev.CachedEvaluate(ctx, m, r.Store, r.questionProgress)
		if err != nil {
			return fmt.Errorf("worker %d: evaluation %d: %w", workerID+1, idx+1, err)
		}
		results[idx] = res
		r.evalProgress()
	}
	return nil
}

func (r *Runner) questionProgress(done, total int) {
	if r.Progress == nil {
		return
	}
	r.mu.Lock()
	r.questionsDone++
	q, e, n := r.questionsDone, r.evalsDone, r.evalsTotal
	r.mu.Unlock()
	r.Progress(q, e, n)
}

func (r *Runner) evalProgress() {
	if r.Progress == nil {
		return
	}
	r.mu.Lock()
	r.evalsDone++
	q, e, n := r.questionsDone, r.evalsDone, r.evalsTotal
	r.mu.Unlock()
	r.Progress(q, e, n)
}

// handleRegistry memoizes one model handle per worker. Each slot is touched
// only by the worker that owns the id, so no locking is needed; worker
// identity is always passed explicitly.
type handleRegistry struct {
	handles []model.Model
}

func newHandleRegistry(workers int) *handleRegistry {
	return &handleRegistry{handles: make([]model.Model, workers)}
}

func (hr *handleRegistry) handle(ctx context.Context, workerID int,
	load func() (model.Model, []string, error)) (model.Model, error) {
	if hr.handles[workerID] != nil {
		return hr.handles[workerID], nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, warnings, err := load()
	if err != nil {
		return nil, err
	}
	log := logutil.GetLogger()
	for _, w := range warnings {
		log.Warn(w, zap.Int("worker", workerID+1))
	}
	hr.handles[workerID] = m
	return m, nil
}
