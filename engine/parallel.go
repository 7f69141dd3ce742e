package engine

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// parallelRunner 单步并发扇出，转录按完成顺序排列。
type parallelRunner struct {
	engine *Engine
	logger *zap.Logger
}

func (r *parallelRunner) validate() error { return nil }

func (r *parallelRunner) run(ctx context.Context, st *runState) error {
	e := r.engine
	e.prepareForks(st, e.order, nil)

	e.emit(st, Event{Type: EventRoundStarted, Round: 1})
	r.logger.Debug("parallel fan-out", zap.Int("agents", len(e.order)))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range e.order {
		id := id
		g.Go(func() error {
			if st.stopped(gctx) {
				return nil
			}
			if rec, ok := e.callAgent(gctx, st, id, 1, "", st.prompt); ok {
				st.transcript.Append(rec)
			}
			// 不让 errgroup 提前终止，个体失败已记录在案
			return nil
		})
	}
	_ = g.Wait()

	st.roundsDone = 1
	st.isComplete = !st.aborted.Load()
	e.emit(st, Event{Type: EventRoundCompleted, Round: 1})
	return nil
}
