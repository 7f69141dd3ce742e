package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/types"
)

// moderatedRunner 主持人每轮点名，被点到的智能体并发应答。
// 主持人的点名回复不进转录，只用于解析人选；其用量照常计入运行总量。
type moderatedRunner struct {
	engine *Engine
	mode   Moderated
	logger *zap.Logger
}

func (r *moderatedRunner) validate() error {
	e := r.engine
	if _, ok := e.agents[r.mode.ModeratorID]; !ok {
		return types.NewErrorf(types.ErrCodeInvalidConfig, "unknown moderator id %q", r.mode.ModeratorID)
	}
	if err := e.lookup(r.mode.EligibleRespondents); err != nil {
		return err
	}
	if len(r.eligible()) == 0 {
		return types.NewError(types.ErrCodeInvalidConfig, "no eligible respondents")
	}
	return nil
}

// eligible 返回可被点名的智能体 ID，保持给定顺序，主持人自身除外。
func (r *moderatedRunner) eligible() []string {
	src := r.mode.EligibleRespondents
	if len(src) == 0 {
		src = r.engine.order
	}
	out := make([]string, 0, len(src))
	for _, id := range src {
		if id != r.mode.ModeratorID {
			out = append(out, id)
		}
	}
	return out
}

func (r *moderatedRunner) run(ctx context.Context, st *runState) error {
	e := r.engine
	eligible := r.eligible()
	e.prepareForks(st, append([]string{r.mode.ModeratorID}, eligible...), nil)

	for round := 1; round <= st.rounds; round++ {
		if st.stopped(ctx) {
			break
		}
		e.emit(st, Event{Type: EventRoundStarted, Round: round})

		selected := r.selectRespondents(ctx, st, round, eligible)
		if st.stopped(ctx) {
			break
		}
		r.logger.Debug("respondents selected", zap.Int("round", round), zap.Strings("selected", selected))

		snapshot := st.transcript.Entries()
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range selected {
			id := id
			g.Go(func() error {
				if st.stopped(gctx) {
					return nil
				}
				prompt := promptWithTranscript(st.prompt, snapshot)
				if rec, ok := e.callAgent(gctx, st, id, round, "", prompt); ok {
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

	st.isComplete = !st.stopped(ctx)
	return nil
}

// selectRespondents 请主持人点名并解析回复中的 ID 或显示名。
// 解析不到任何人选或主持人调用失败时，退化为全体候选并发应答。
func (r *moderatedRunner) selectRespondents(ctx context.Context, st *runState, round int, eligible []string) []string {
	e := r.engine
	roster := make([]string, 0, len(eligible))
	for _, id := range eligible {
		name := e.agents[id].DisplayName()
		if name != id {
			roster = append(roster, id+" ("+name+")")
		} else {
			roster = append(roster, id)
		}
	}

	directive := promptWithTranscript(st.prompt, st.transcript.Entries()) +
		"\n\nYou are the moderator. Pick who should speak next from: " +
		strings.Join(roster, ", ") + ". Answer with their ids."

	rec, ok := e.callAgent(ctx, st, r.mode.ModeratorID, round, "", directive)
	if !ok {
		r.logger.Warn("moderator call failed, all eligible respondents will speak", zap.Int("round", round))
		return eligible
	}

	selected := parseSelection(rec.Content, eligible, e.agents)
	if len(selected) == 0 {
		r.logger.Warn("moderator reply named no eligible respondent",
			zap.Int("round", round),
			zap.String("reply", clip(rec.Content, 120)),
		)
		return eligible
	}
	return selected
}

// parseSelection 在主持人回复中查找候选人的 ID 或显示名，
// 不区分大小写，结果保持候选顺序。
func parseSelection(reply string, eligible []string, agents map[string]*agent.Agent) []string {
	lower := strings.ToLower(reply)
	var selected []string
	for _, id := range eligible {
		if strings.Contains(lower, strings.ToLower(id)) ||
			strings.Contains(lower, strings.ToLower(agents[id].DisplayName())) {
			selected = append(selected, id)
		}
	}
	return selected
}
