package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// debateRunner 按注册顺序逐轮发言，每轮结束后对该轮成功回复计算
// 收敛分；达到阈值提前结束，阈值为 0 时跑满轮数。
type debateRunner struct {
	engine *Engine
	mode   Debate
	logger *zap.Logger
}

func (r *debateRunner) validate() error { return nil }

func (r *debateRunner) run(ctx context.Context, st *runState) error {
	e := r.engine
	maxRounds := r.mode.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultDebateRounds
	}
	e.prepareForks(st, e.order, nil)

	for round := 1; round <= maxRounds; round++ {
		if st.stopped(ctx) {
			break
		}
		e.emit(st, Event{Type: EventRoundStarted, Round: round})

		var replies []string
		for _, id := range e.order {
			if st.stopped(ctx) {
				break
			}
			prompt := promptWithTranscript(st.prompt, st.transcript.Entries())
			if rec, ok := e.callAgent(ctx, st, id, round, "", prompt); ok {
				st.transcript.Append(rec)
				replies = append(replies, rec.Content)
			}
		}
		if st.stopped(ctx) {
			break
		}

		score := ConvergenceScore(replies)
		st.score, st.hasScore = score, true
		st.roundsDone = round
		e.emit(st, Event{
			Type:   EventRoundCompleted,
			Round:  round,
			Detail: fmt.Sprintf("convergence=%.3f", score),
		})
		r.logger.Debug("debate round scored",
			zap.Int("round", round),
			zap.Float64("convergence", score),
			zap.Int("replies", len(replies)),
		)

		if r.mode.ConvergenceThreshold > 0 && score >= r.mode.ConvergenceThreshold {
			r.logger.Info("debate converged",
				zap.Int("round", round),
				zap.Float64("score", score),
				zap.Float64("threshold", r.mode.ConvergenceThreshold),
			)
			st.isComplete = true
			return nil
		}
	}

	st.isComplete = !st.stopped(ctx)
	return nil
}
