// Package openapi turns an OpenAPI 3 document into a tool backend.
package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/agentswarm/internal/tlsutil"
	"github.com/BaSui01/agentswarm/types"
)

// Document is the subset of an OpenAPI 3 document the backend consumes.
type Document struct {
	OpenAPI string              `json:"openapi"`
	Info    Info                `json:"info"`
	Servers []Server            `json:"servers,omitempty"`
	Paths   map[string]PathItem `json:"paths"`
}

// Info carries API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Server describes one API server.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// PathItem groups the operations on one path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Put    *Operation `json:"put,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
	Patch  *Operation `json:"patch,omitempty"`
}

// Operation is one API operation.
type Operation struct {
	OperationID string       `json:"operationId,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
}

// Parameter is one operation parameter. In 取值 query、path、header，
// cookie 参数不支持。
type Parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"`
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// RequestBody describes the JSON request body of an operation.
type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// MediaType wraps a content schema.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Schema keeps the type and description of a parameter. Deeper schema
// structure is not mapped; tool parameters are flat by contract.
type Schema struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParseDocument 解析 OpenAPI 3 JSON 文档。
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if len(doc.Paths) == 0 {
		return nil, fmt.Errorf("openapi document has no paths")
	}
	return &doc, nil
}

// FetchDocument 从 URL 拉取并解析文档。client 为 nil 时使用加固的
// 默认客户端。
func FetchDocument(ctx context.Context, url string, client *http.Client) (*Document, error) {
	if client == nil {
		client = tlsutil.SecureHTTPClient(30 * time.Second)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch openapi document: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch openapi document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch openapi document: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch openapi document: %w", err)
	}
	return ParseDocument(data)
}

// route 一个工具对应的 HTTP 调用方式。
type route struct {
	method       string
	path         string
	params       []Parameter
	hasBody      bool
	bodyRequired bool
}

// methodOrder 固定方法遍历顺序，保证工具清单稳定。
var methodOrder = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch,
}

// generate 遍历文档生成工具描述符与路由表。路径按字典序、方法按固定
// 顺序遍历，重复的工具名直接报错。
func generate(doc *Document, include, exclude []string) ([]types.ToolDescriptor, map[string]route, error) {
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var descriptors []types.ToolDescriptor
	routes := make(map[string]route)

	for _, path := range paths {
		item := doc.Paths[path]
		byMethod := map[string]*Operation{
			http.MethodGet:    item.Get,
			http.MethodPost:   item.Post,
			http.MethodPut:    item.Put,
			http.MethodDelete: item.Delete,
			http.MethodPatch:  item.Patch,
		}

		for _, method := range methodOrder {
			op := byMethod[method]
			if op == nil {
				continue
			}
			if len(include) > 0 && !hasAnyTag(op.Tags, include) {
				continue
			}
			if len(exclude) > 0 && hasAnyTag(op.Tags, exclude) {
				continue
			}

			desc, rt, err := operationToTool(path, method, op)
			if err != nil {
				return nil, nil, err
			}
			if _, dup := routes[desc.Name]; dup {
				return nil, nil, fmt.Errorf("duplicate tool name %q in openapi document", desc.Name)
			}
			descriptors = append(descriptors, desc)
			routes[desc.Name] = rt
		}
	}
	return descriptors, routes, nil
}

// operationToTool 把一个 Operation 映射成扁平参数的工具描述符。
// JSON 请求体整体映射为一个 body 参数。
func operationToTool(path, method string, op *Operation) (types.ToolDescriptor, route, error) {
	name := op.OperationID
	if name == "" {
		name = fmt.Sprintf("%s_%s", strings.ToLower(method), sanitizePath(path))
	}

	description := op.Summary
	if description == "" {
		description = op.Description
	}
	if description == "" {
		description = fmt.Sprintf("%s %s", method, path)
	}

	var params []types.ToolParameter
	for _, p := range op.Parameters {
		switch p.In {
		case "query", "path", "header":
		default:
			return types.ToolDescriptor{}, route{}, fmt.Errorf(
				"operation %q: unsupported parameter location %q", name, p.In)
		}
		typ := "string"
		pdesc := p.Description
		if p.Schema != nil {
			if p.Schema.Type != "" {
				typ = p.Schema.Type
			}
			if pdesc == "" {
				pdesc = p.Schema.Description
			}
		}
		params = append(params, types.ToolParameter{
			Name:        p.Name,
			Type:        typ,
			Required:    p.Required,
			Description: pdesc,
		})
	}

	rt := route{method: method, path: path, params: op.Parameters}
	if op.RequestBody != nil {
		if _, ok := op.RequestBody.Content["application/json"]; ok {
			rt.hasBody = true
			rt.bodyRequired = op.RequestBody.Required
			bdesc := op.RequestBody.Description
			if bdesc == "" {
				bdesc = "JSON request body"
			}
			params = append(params, types.ToolParameter{
				Name:        "body",
				Type:        "object",
				Required:    op.RequestBody.Required,
				Description: bdesc,
			})
		}
	}

	return types.ToolDescriptor{
		Name:        name,
		Description: description,
		Parameters:  params,
	}, rt, nil
}

func hasAnyTag(tags, targets []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, t := range targets {
		if set[t] {
			return true
		}
	}
	return false
}

func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.ReplaceAll(path, "{", "")
	path = strings.ReplaceAll(path, "}", "")
	return strings.Trim(path, "_")
}
