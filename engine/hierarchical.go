package engine

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentswarm/types"
)

// hierarchicalRunner 逐层执行，层内并发。每层的提示词只含更低层的
// 输出，层内同伴互不可见；终层的独子产出最终答案。
type hierarchicalRunner struct {
	engine *Engine
	mode   Hierarchical
	logger *zap.Logger
}

func (r *hierarchicalRunner) validate() error {
	e := r.engine
	if len(r.mode.Layers) == 0 {
		return types.NewError(types.ErrCodeInvalidConfig, "at least one layer is required")
	}
	seen := make(map[string]int)
	for li, layer := range r.mode.Layers {
		if len(layer) == 0 {
			return types.NewErrorf(types.ErrCodeInvalidConfig, "layer %d is empty", li)
		}
		for _, id := range layer {
			if _, ok := e.agents[id]; !ok {
				return types.NewErrorf(types.ErrCodeInvalidConfig, "unknown agent id %q in layer %d", id, li)
			}
			if prev, ok := seen[id]; ok {
				return types.NewErrorf(types.ErrCodeInvalidConfig, "agent %q appears in layers %d and %d", id, prev, li)
			}
			seen[id] = li
		}
	}
	if last := r.mode.Layers[len(r.mode.Layers)-1]; len(last) != 1 {
		return types.NewErrorf(types.ErrCodeInvalidConfig, "terminal layer must have exactly one member, got %d", len(last))
	}
	return nil
}

func (r *hierarchicalRunner) run(ctx context.Context, st *runState) error {
	e := r.engine
	for _, layer := range r.mode.Layers {
		e.prepareForks(st, layer, nil)
	}

	for li, layer := range r.mode.Layers {
		if st.stopped(ctx) {
			break
		}
		round := li + 1
		e.emit(st, Event{Type: EventRoundStarted, Round: round})
		r.logger.Debug("layer started", zap.Int("layer", round), zap.Int("agents", len(layer)))

		// 快照只含更低层的输出，层内同伴互不可见
		snapshot := st.transcript.Entries()
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range layer {
			id := id
			g.Go(func() error {
				if st.stopped(gctx) {
					return nil
				}
				prompt := promptWithTranscript(st.prompt, snapshot)
				if rec, ok := e.callAgent(gctx, st, id, round, "", prompt); ok {
					rec.Layer = round
					st.transcript.Append(rec)
				}
				return nil
			})
		}
		_ = g.Wait()

		if st.stopped(ctx) {
			break
		}
		st.roundsDone = round
		e.emit(st, Event{Type: EventRoundCompleted, Round: round})
	}

	st.isComplete = st.roundsDone == len(r.mode.Layers) && !st.stopped(ctx)
	return nil
}
