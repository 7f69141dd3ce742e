package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/tlsutil"
	"github.com/BaSui01/agentswarm/types"
)

const defaultRequestTimeout = 30 * time.Second

// Backend 把 OpenAPI 文档里的每个 Operation 暴露为一个工具：
// Tools 返回生成的描述符，Execute 把参数装配成 HTTP 请求发给远端。
// 实现 tools.Backend。
type Backend struct {
	baseURL     string
	client      *http.Client
	logger      *zap.Logger
	descriptors []types.ToolDescriptor
	routes      map[string]route
}

// Option 配置 Backend。
type Option func(*options)

type options struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	include []string
	exclude []string
}

// WithBaseURL 覆盖文档里的 servers[0].url。
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient 换用自定义 HTTP 客户端，默认为加固客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithLogger 指定日志器。
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIncludeTags 只生成带这些 tag 的操作。
func WithIncludeTags(tags ...string) Option {
	return func(o *options) { o.include = tags }
}

// WithExcludeTags 跳过带这些 tag 的操作。
func WithExcludeTags(tags ...string) Option {
	return func(o *options) { o.exclude = tags }
}

// NewBackend 从解析好的文档构建后端。没有可用的 base URL 或工具名
// 冲突时报错。
func NewBackend(doc *Document, opts ...Option) (*Backend, error) {
	if doc == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "openapi document is required")
	}

	o := options{
		client: tlsutil.SecureHTTPClient(defaultRequestTimeout),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := o.baseURL
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	if baseURL == "" {
		return nil, types.NewError(types.ErrCodeInvalidConfig,
			"openapi document has no servers, provide WithBaseURL")
	}

	descriptors, routes, err := generate(doc, o.include, o.exclude)
	if err != nil {
		return nil, types.NewErrorf(types.ErrCodeInvalidConfig, "generate tools: %v", err)
	}

	b := &Backend{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		client:      o.client,
		logger:      o.logger.With(zap.String("component", "openapi_backend")),
		descriptors: descriptors,
		routes:      routes,
	}

	b.logger.Info("openapi backend ready",
		zap.String("title", doc.Info.Title),
		zap.String("base_url", b.baseURL),
		zap.Int("tools", len(descriptors)))
	return b, nil
}

// Tools 实现 tools.Backend。
func (b *Backend) Tools() []types.ToolDescriptor {
	out := make([]types.ToolDescriptor, len(b.descriptors))
	copy(out, b.descriptors)
	return out
}

// Execute 实现 tools.Backend。参数按声明位置装配：path 参数替换进
// 路径，query 参数进查询串，header 参数进请求头，body 参数序列化为
// JSON 请求体。非 JSON 响应包装为 {"raw": ...}。
func (b *Backend) Execute(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	rt, ok := b.routes[tool]
	if !ok {
		return nil, fmt.Errorf("backend does not provide tool %q", tool)
	}

	argm := make(map[string]any)
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argm); err != nil {
			return nil, types.NewErrorf(types.ErrCodeBackend,
				"tool %q: arguments must be a JSON object: %v", tool, err)
		}
	}

	req, err := b.buildRequest(ctx, tool, rt, argm)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, types.NewErrorf(types.ErrCodeBackend, "tool %q: %v", tool, err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewErrorf(types.ErrCodeBackend, "tool %q: read response: %v", tool, err)
	}

	if resp.StatusCode >= 400 {
		werr := types.NewErrorf(types.ErrCodeBackend, "tool %q: %s %s returned HTTP %d",
			tool, rt.method, rt.path, resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			werr = werr.WithRetryable(true)
		}
		b.logger.Warn("openapi call failed",
			zap.String("tool", tool),
			zap.Int("status", resp.StatusCode))
		return nil, werr
	}

	b.logger.Debug("openapi call completed",
		zap.String("tool", tool),
		zap.Int("status", resp.StatusCode))

	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if json.Valid(body) {
		return body, nil
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
	return wrapped, nil
}

// buildRequest 装配 HTTP 请求。缺少必填参数直接报错。
func (b *Backend) buildRequest(ctx context.Context, tool string, rt route, argm map[string]any) (*http.Request, error) {
	path := rt.path
	query := url.Values{}
	headers := map[string]string{}

	for _, p := range rt.params {
		val, present := argm[p.Name]
		if !present {
			if p.Required {
				return nil, types.NewErrorf(types.ErrCodeBackend,
					"tool %q: missing required parameter %q", tool, p.Name)
			}
			continue
		}
		str := fmt.Sprint(val)
		switch p.In {
		case "path":
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(str))
		case "query":
			query.Set(p.Name, str)
		case "header":
			headers[p.Name] = str
		}
	}

	var body io.Reader
	if rt.hasBody {
		bodyVal, present := argm["body"]
		if !present && rt.bodyRequired {
			return nil, types.NewErrorf(types.ErrCodeBackend,
				"tool %q: missing required parameter %q", tool, "body")
		}
		if present {
			data, err := json.Marshal(bodyVal)
			if err != nil {
				return nil, types.NewErrorf(types.ErrCodeBackend,
					"tool %q: encode body: %v", tool, err)
			}
			body = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, rt.method, b.baseURL+path, body)
	if err != nil {
		return nil, types.NewErrorf(types.ErrCodeBackend, "tool %q: %v", tool, err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
