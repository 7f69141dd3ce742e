package engine

import (
	"context"

	"go.uber.org/zap"
)

// roundRobinRunner 按固定顺序轮流发言。第 r 轮第 k 位发言者看到
// 1..r-1 轮的全部回复和本轮前 k-1 位的回复，严格不多不少。
type roundRobinRunner struct {
	engine *Engine
	mode   RoundRobin
	logger *zap.Logger
}

func (r *roundRobinRunner) order() []string {
	if len(r.mode.Order) > 0 {
		return r.mode.Order
	}
	return r.engine.order
}

func (r *roundRobinRunner) validate() error {
	return r.engine.lookup(r.mode.Order)
}

func (r *roundRobinRunner) run(ctx context.Context, st *runState) error {
	e := r.engine
	order := r.order()
	e.prepareForks(st, order, nil)

	for round := 1; round <= st.rounds; round++ {
		if st.stopped(ctx) {
			break
		}
		e.emit(st, Event{Type: EventRoundStarted, Round: round})
		r.logger.Debug("round started", zap.Int("round", round), zap.Int("speakers", len(order)))

		for _, id := range order {
			if st.stopped(ctx) {
				break
			}
			prompt := promptWithTranscript(st.prompt, st.transcript.Entries())
			if rec, ok := e.callAgent(ctx, st, id, round, "", prompt); ok {
				st.transcript.Append(rec)
			}
		}

		if st.stopped(ctx) {
			break
		}
		st.roundsDone = round
		e.emit(st, Event{Type: EventRoundCompleted, Round: round})
	}

	st.isComplete = !st.stopped(ctx)
	return nil
}
