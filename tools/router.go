// Package tools routes tool calls from agents to registered backends.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentswarm/types"
)

const defaultCallTimeout = 30 * time.Second

// registration holds one backend and its registration-time settings.
type registration struct {
	name    string
	backend Backend
	limiter *rate.Limiter
	timeout time.Duration
}

// Router maps tool names to backends with first-registered precedence.
// The routing table may change while calls are in flight; a call keeps
// the backend reference it resolved at dispatch time.
type Router struct {
	mu       sync.RWMutex
	backends map[string]*registration
	order    []string          // backend names in registration order
	routes   map[string]string // tool name -> owning backend name
	logger   *zap.Logger
}

// NewRouter 创建工具路由器。
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		backends: make(map[string]*registration),
		routes:   make(map[string]string),
		logger:   logger,
	}
}

// RegisterOption configures one backend registration.
type RegisterOption func(*registration)

// WithRateLimit throttles calls into the backend.
func WithRateLimit(callsPerSecond float64, burst int) RegisterOption {
	return func(r *registration) {
		r.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), burst)
	}
}

// WithCallTimeout overrides the per-call timeout for the backend.
func WithCallTimeout(d time.Duration) RegisterOption {
	return func(r *registration) {
		r.timeout = d
	}
}

// Register adds a backend and merges its advertised tools into the routing
// table. A tool name already owned by an earlier backend stays with that
// backend; the conflict is reported via a DUPLICATE_TOOL error after all
// non-conflicting tools have been routed. The caller may treat it as a
// warning.
func (r *Router) Register(name string, backend Backend, opts ...RegisterOption) error {
	if name == "" {
		return types.NewError(types.ErrCodeInvalidConfig, "backend name is required")
	}
	if backend == nil {
		return types.NewError(types.ErrCodeInvalidConfig, "backend is required")
	}

	reg := &registration{
		name:    name,
		backend: backend,
		timeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return types.NewErrorf(types.ErrCodeInvalidConfig, "backend %q already registered", name)
	}

	var conflicts []string
	for _, desc := range backend.Tools() {
		if owner, taken := r.routes[desc.Name]; taken {
			conflicts = append(conflicts, fmt.Sprintf("%s (owned by %s)", desc.Name, owner))
			continue
		}
		r.routes[desc.Name] = name
	}

	r.backends[name] = reg
	r.order = append(r.order, name)

	r.logger.Info("tool backend registered",
		zap.String("backend", name),
		zap.Int("tools", len(backend.Tools())),
		zap.Int("conflicts", len(conflicts)))

	if len(conflicts) > 0 {
		r.logger.Warn("duplicate tool names kept with first registrant",
			zap.String("backend", name),
			zap.Strings("conflicts", conflicts))
		return types.NewErrorf(types.ErrCodeDuplicateTool,
			"backend %q: tools already routed: %s", name, strings.Join(conflicts, ", "))
	}
	return nil
}

// Unregister removes the backend and every tool it owns from the routing
// table. Calls that already resolved the backend run to completion.
func (r *Router) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; !exists {
		return types.NewErrorf(types.ErrCodeInvalidConfig, "backend %q not registered", name)
	}

	delete(r.backends, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for tool, owner := range r.routes {
		if owner == name {
			delete(r.routes, tool)
		}
	}

	r.logger.Info("tool backend unregistered", zap.String("backend", name))
	return nil
}

// Has reports whether the tool is currently routable.
func (r *Router) Has(tool string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[tool]
	return ok
}

// Describe returns the descriptor of a routed tool.
func (r *Router) Describe(tool string) (types.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.routes[tool]
	if !ok {
		return types.ToolDescriptor{}, false
	}
	for _, desc := range r.backends[owner].backend.Tools() {
		if desc.Name == tool {
			return desc, true
		}
	}
	return types.ToolDescriptor{}, false
}

// ListAll merges tool descriptors across backends in registration order.
// Each tool appears once, listed under its owning backend.
func (r *Router) ListAll() []types.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.ToolDescriptor
	for _, name := range r.order {
		for _, desc := range r.backends[name].backend.Tools() {
			if r.routes[desc.Name] == name {
				out = append(out, desc)
			}
		}
	}
	return out
}

// Call resolves the owning backend and delegates. The backend reference is
// captured before dispatch; no lock is held across the backend call. The
// backend's failure comes back verbatim when it carries an error code,
// otherwise it is wrapped as BACKEND_ERROR.
func (r *Router) Call(ctx context.Context, tool string, args json.RawMessage) (*types.ToolResult, error) {
	start := time.Now()
	result := &types.ToolResult{Name: tool}
	logger := r.callLogger(ctx)

	r.mu.RLock()
	owner, ok := r.routes[tool]
	var reg *registration
	if ok {
		reg = r.backends[owner]
	}
	r.mu.RUnlock()

	if !ok {
		result.Duration = time.Since(start)
		err := types.NewErrorf(types.ErrCodeUnknownTool, "tool %q not routed to any backend", tool)
		result.Error = err.Error()
		logger.Warn("unknown tool", zap.String("tool", tool))
		return result, err
	}

	// 参数必须是合法 JSON
	if len(args) > 0 {
		var tmp any
		if err := json.Unmarshal(args, &tmp); err != nil {
			result.Duration = time.Since(start)
			werr := types.NewErrorf(types.ErrCodeBackend, "invalid arguments for %q: %v", tool, err)
			result.Error = werr.Error()
			return result, werr
		}
	}

	if reg.limiter != nil {
		if err := reg.limiter.Wait(ctx); err != nil {
			result.Duration = time.Since(start)
			werr := types.NewErrorf(types.ErrCodeBackend, "rate limit wait for %q: %v", tool, err).
				WithRetryable(true)
			result.Error = werr.Error()
			return result, werr
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := reg.backend.Execute(execCtx, tool, args)
		select {
		case done <- outcome{res, err}:
		case <-execCtx.Done():
		}
	}()

	select {
	case out := <-done:
		result.Duration = time.Since(start)
		if out.err != nil {
			result.Error = out.err.Error()
			logger.Warn("tool call failed",
				zap.String("tool", tool),
				zap.String("backend", owner),
				zap.Error(out.err),
				zap.Duration("duration", result.Duration))
			if types.GetErrorCode(out.err) != "" {
				return result, out.err
			}
			return result, types.NewErrorf(types.ErrCodeBackend,
				"tool %q failed", tool).WithCause(out.err)
		}
		result.Result = out.res
		logger.Debug("tool call completed",
			zap.String("tool", tool),
			zap.String("backend", owner),
			zap.Duration("duration", result.Duration))
		return result, nil

	case <-execCtx.Done():
		result.Duration = time.Since(start)
		werr := types.NewErrorf(types.ErrCodeBackend,
			"tool %q timed out after %s", tool, reg.timeout).WithRetryable(true)
		result.Error = werr.Error()
		logger.Warn("tool call timeout",
			zap.String("tool", tool),
			zap.String("backend", owner),
			zap.Duration("timeout", reg.timeout))
		return result, werr
	}
}

// callLogger 把 context 里的运行元数据附到本次调用的日志上。
func (r *Router) callLogger(ctx context.Context) *zap.Logger {
	logger := r.logger
	if runID, ok := types.RunID(ctx); ok {
		logger = logger.With(zap.String("run_id", runID))
	}
	if agentID, ok := types.AgentID(ctx); ok {
		logger = logger.With(zap.String("agent_id", agentID))
	}
	return logger
}
