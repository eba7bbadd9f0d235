package bitrix

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// MaxBatchCommands is the provider-imposed cap on commands per batch call.
const MaxBatchCommands = 50

// Batch accumulates API commands and executes them in a single `batch`
// round trip.
type Batch struct {
	base     baseClient
	halt     bool
	order    []string
	commands map[string]string
}

// BatchResult holds the per-command results and errors keyed by command id.
type BatchResult struct {
	Results map[string]any
	Errors  map[string]string
}

// NewBatch builds an empty batch over the transport.
func NewBatch(transport Transport, logger *zap.Logger) *Batch {
	return &Batch{
		base:     baseClient{transport: transport, logger: logger},
		commands: make(map[string]string),
	}
}

// Halt makes the provider stop executing remaining commands after the first
// failure.
func (b *Batch) Halt(halt bool) *Batch {
	b.halt = halt
	return b
}

// Add queues one command under a unique id. Re-adding an id overwrites the
// previous command.
func (b *Batch) Add(id, method string, params map[string]any) *Batch {
	if _, exists := b.commands[id]; !exists {
		b.order = append(b.order, id)
	}
	b.commands[id] = method + "?" + encodeQuery(params)
	return b
}

// Count reports the queued command count.
func (b *Batch) Count() int {
	return len(b.commands)
}

// IsEmpty reports whether no commands are queued.
func (b *Batch) IsEmpty() bool {
	return len(b.commands) == 0
}

// Clear drops all queued commands.
func (b *Batch) Clear() *Batch {
	b.order = nil
	b.commands = make(map[string]string)
	return b
}

// Execute runs the queued commands and clears the batch on success.
func (b *Batch) Execute(ctx context.Context) (*BatchResult, error) {
	if b.IsEmpty() {
		return &BatchResult{Results: map[string]any{}, Errors: map[string]string{}}, nil
	}
	if len(b.commands) > MaxBatchCommands {
		return nil, fmt.Errorf("batch holds %d commands, provider limit is %d", len(b.commands), MaxBatchCommands)
	}

	cmd := make(map[string]any, len(b.commands))
	for id, command := range b.commands {
		cmd[id] = command
	}
	halt := 0
	if b.halt {
		halt = 1
	}

	resp, err := b.base.call(ctx, "batch", map[string]any{"cmd": cmd, "halt": halt})
	if err != nil {
		return nil, err
	}

	out := &BatchResult{Results: map[string]any{}, Errors: map[string]string{}}
	if envelope, ok := resp.Result().(map[string]any); ok {
		if results, ok := envelope["result"].(map[string]any); ok {
			out.Results = results
		}
		if errs, ok := envelope["result_error"].(map[string]any); ok {
			for id, detail := range errs {
				out.Errors[id] = fmt.Sprint(detail)
			}
		}
	}

	b.Clear()
	return out, nil
}

// encodeQuery flattens params into a Bitrix-style query string, expanding
// one level of nested maps and slices into bracketed keys.
func encodeQuery(params map[string]any) string {
	values := url.Values{}
	for key, value := range params {
		switch v := value.(type) {
		case map[string]any:
			for sub, subVal := range v {
				values.Set(fmt.Sprintf("%s[%s]", key, sub), fmt.Sprint(subVal))
			}
		case map[string]string:
			for sub, subVal := range v {
				values.Set(fmt.Sprintf("%s[%s]", key, sub), subVal)
			}
		case []string:
			for i, item := range v {
				values.Set(fmt.Sprintf("%s[%d]", key, i), item)
			}
		case []any:
			for i, item := range v {
				values.Set(fmt.Sprintf("%s[%d]", key, i), fmt.Sprint(item))
			}
		default:
			values.Set(key, fmt.Sprint(v))
		}
	}
	return values.Encode()
}
