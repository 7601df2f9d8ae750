// Package tool hosts the closed set of commerce tools the reasoning layer
// may invoke. The set is fixed at construction; models cannot conjure new
// capabilities by naming a tool that is not registered.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
)

// handler runs one tool call. Args have been checked for required keys
// before the handler runs.
type handler func(ctx context.Context, args map[string]any, tctx contractx.ToolContext) (any, error)

type toolSpec struct {
	name     string
	required []string
	run      handler
}

// Registry implements contract.ToolGateway over the commerce backends.
type Registry struct {
	specs map[string]toolSpec
}

var _ contractx.ToolGateway = (*Registry)(nil)

func (r *Registry) register(spec toolSpec) {
	r.specs[spec.name] = spec
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one call. Failures of any kind come back inside the
// ToolResult so a bad call never aborts the turn.
func (r *Registry) Execute(ctx context.Context, call contractx.ToolCall, tctx contractx.ToolContext) (result contractx.ToolResult) {
	result.Tool = call.Tool

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("tool", call.Tool).Any("panic", rec).Msg("tool handler panicked")
			result.Result = nil
			result.Error = fmt.Sprintf("tool %s failed unexpectedly", call.Tool)
		}
	}()

	spec, ok := r.specs[strings.TrimSpace(call.Tool)]
	if !ok {
		result.Error = fmt.Sprintf("%v: %s", contractx.ErrToolUnknown, call.Tool)
		return result
	}

	for _, key := range spec.required {
		if _, present := call.Args[key]; !present {
			result.Error = fmt.Sprintf("missing required argument %q", key)
			return result
		}
	}

	payload, err := spec.run(ctx, call.Args, tctx)
	if err != nil {
		log.Warn().Str("tool", call.Tool).Err(err).Msg("tool call failed")
		result.Error = err.Error()
		return result
	}

	result.Result = payload
	return result
}

// ExecuteAll runs calls sequentially in the order given. Later calls see
// the side effects of earlier ones, which matters for cart flows.
func (r *Registry) ExecuteAll(ctx context.Context, calls []contractx.ToolCall, tctx contractx.ToolContext) []contractx.ToolResult {
	results := make([]contractx.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, r.Execute(ctx, call, tctx))
	}
	return results
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// intArg tolerates JSON numbers arriving as float64.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}

func int64Arg(args map[string]any, key string, fallback int64) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return fallback
	}
}
