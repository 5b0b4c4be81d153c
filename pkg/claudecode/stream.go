package claudecode

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stream event types, in the order they occur within one streamed message.
const (
	StreamMessageStart      = "message_start"
	StreamContentBlockStart = "content_block_start"
	StreamContentBlockDelta = "content_block_delta"
	StreamContentBlockStop  = "content_block_stop"
	StreamMessageDelta      = "message_delta"
	StreamMessageStop       = "message_stop"
)

// Delta types carried by content_block_delta events.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
	DeltaTypeThinking  = "thinking_delta"
	DeltaTypeSignature = "signature_delta"
)

// StreamEvent is one partial-message event. Type determines which fields are
// set: message_start carries Message, content_block_start carries Index and
// ContentBlock, content_block_delta carries Index and Delta, message_delta
// carries Delta and Usage.
type StreamEvent struct {
	Type         string
	Index        int
	Message      *StreamMessageInfo
	ContentBlock ContentBlock
	Delta        *StreamDelta
	Usage        *Usage
}

// StreamMessageInfo is the message skeleton announced by message_start.
type StreamMessageInfo struct {
	ID    string `json:"id,omitempty"`
	Role  string `json:"role,omitempty"`
	Model string `json:"model,omitempty"`
}

// StreamDelta is one increment of a streamed block, or the stop metadata on
// message_delta.
type StreamDelta struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	Thinking     string `json:"thinking,omitempty"`
	Signature    string `json:"signature,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// ParseStreamEvent decodes one stream event. Event types outside the known
// set (the API interleaves ping events, for one) decode to a bare event that
// accumulators ignore.
func ParseStreamEvent(raw json.RawMessage) (*StreamEvent, error) {
	var wire struct {
		Type         string             `json:"type"`
		Index        *int               `json:"index"`
		Message      *StreamMessageInfo `json:"message"`
		ContentBlock json.RawMessage    `json:"content_block"`
		Delta        *StreamDelta       `json:"delta"`
		Usage        *Usage             `json:"usage"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}
	if wire.Type == "" {
		return nil, missingFieldsError(MessageTypeStreamEvent, "event.type")
	}

	ev := &StreamEvent{
		Type:    wire.Type,
		Message: wire.Message,
		Delta:   wire.Delta,
		Usage:   wire.Usage,
	}
	if wire.Index != nil {
		ev.Index = *wire.Index
	}

	switch wire.Type {
	case StreamContentBlockStart:
		if wire.Index == nil {
			return nil, missingFieldsError(MessageTypeStreamEvent, "event.index")
		}
		if len(wire.ContentBlock) == 0 {
			return nil, missingFieldsError(MessageTypeStreamEvent, "event.content_block")
		}
		block, err := ParseContentBlock(wire.ContentBlock)
		if err != nil {
			return nil, fmt.Errorf("content_block_start: %w", err)
		}
		ev.ContentBlock = block
	case StreamContentBlockDelta:
		if wire.Index == nil {
			return nil, missingFieldsError(MessageTypeStreamEvent, "event.index")
		}
		if wire.Delta == nil {
			return nil, missingFieldsError(MessageTypeStreamEvent, "event.delta")
		}
	case StreamContentBlockStop:
		if wire.Index == nil {
			return nil, missingFieldsError(MessageTypeStreamEvent, "event.index")
		}
	}
	return ev, nil
}

// CompletedBlock is one fully reconstructed content block and the stream
// index it occupied.
type CompletedBlock struct {
	Index int
	Block ContentBlock
}

// partialBlock accumulates one in-flight content block.
type partialBlock struct {
	kind         string
	text         strings.Builder
	signature    strings.Builder
	inputJSON    strings.Builder
	toolID       string
	toolName     string
	initialInput map[string]any
	static       ContentBlock
}

// StreamAccumulator reconstructs finished content blocks from an ordered
// event sequence. Callers wanting the granular view read each event's Delta
// directly; AddEvent only surfaces a block once its content_block_stop
// arrives. Accumulators are not safe for concurrent use.
type StreamAccumulator struct {
	partials map[int]*partialBlock
}

// NewStreamAccumulator returns an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{partials: make(map[int]*partialBlock)}
}

// Reset drops all partial state, ready for a new message.
func (a *StreamAccumulator) Reset() {
	a.partials = make(map[int]*partialBlock)
}

// AddEvent consumes one stream event in arrival order. It returns the
// finished block when the event is a content_block_stop, nil otherwise.
// Deltas addressed to an index with no started block are an ordering
// violation and fail.
func (a *StreamAccumulator) AddEvent(ev *StreamEvent) (*CompletedBlock, error) {
	switch ev.Type {
	case StreamMessageStart:
		a.Reset()
		return nil, nil

	case StreamContentBlockStart:
		if _, exists := a.partials[ev.Index]; exists {
			return nil, fmt.Errorf("content_block_start for already active index %d", ev.Index)
		}
		partial, err := newPartialBlock(ev.ContentBlock)
		if err != nil {
			return nil, err
		}
		a.partials[ev.Index] = partial
		return nil, nil

	case StreamContentBlockDelta:
		partial, ok := a.partials[ev.Index]
		if !ok {
			return nil, fmt.Errorf("delta for index %d before content_block_start", ev.Index)
		}
		if ev.Delta == nil {
			return nil, fmt.Errorf("content_block_delta for index %d carries no delta", ev.Index)
		}
		return nil, partial.apply(ev.Index, ev.Delta)

	case StreamContentBlockStop:
		partial, ok := a.partials[ev.Index]
		if !ok {
			return nil, fmt.Errorf("content_block_stop for unknown index %d", ev.Index)
		}
		block, err := partial.finalize(ev.Index)
		if err != nil {
			return nil, err
		}
		delete(a.partials, ev.Index)
		return &CompletedBlock{Index: ev.Index, Block: block}, nil

	default:
		// message_delta, message_stop and any unknown event types carry no
		// block content.
		return nil, nil
	}
}

func newPartialBlock(block ContentBlock) (*partialBlock, error) {
	switch b := block.(type) {
	case *TextBlock:
		partial := &partialBlock{kind: BlockTypeText}
		partial.text.WriteString(b.Text)
		return partial, nil
	case *ThinkingBlock:
		partial := &partialBlock{kind: BlockTypeThinking}
		partial.text.WriteString(b.Thinking)
		partial.signature.WriteString(b.Signature)
		return partial, nil
	case *ToolUseBlock:
		return &partialBlock{
			kind:         BlockTypeToolUse,
			toolID:       b.ID,
			toolName:     b.Name,
			initialInput: b.Input,
		}, nil
	case nil:
		return nil, fmt.Errorf("content_block_start carries no block")
	default:
		// tool_result and future block kinds do not stream deltas; pass the
		// started block through unchanged at stop.
		return &partialBlock{kind: block.blockType(), static: block}, nil
	}
}

func (p *partialBlock) apply(index int, delta *StreamDelta) error {
	switch delta.Type {
	case DeltaTypeText:
		if p.kind != BlockTypeText {
			return fmt.Errorf("text_delta for %s block at index %d", p.kind, index)
		}
		p.text.WriteString(delta.Text)
	case DeltaTypeThinking:
		if p.kind != BlockTypeThinking {
			return fmt.Errorf("thinking_delta for %s block at index %d", p.kind, index)
		}
		p.text.WriteString(delta.Thinking)
	case DeltaTypeSignature:
		if p.kind != BlockTypeThinking {
			return fmt.Errorf("signature_delta for %s block at index %d", p.kind, index)
		}
		p.signature.WriteString(delta.Signature)
	case DeltaTypeInputJSON:
		if p.kind != BlockTypeToolUse {
			return fmt.Errorf("input_json_delta for %s block at index %d", p.kind, index)
		}
		p.inputJSON.WriteString(delta.PartialJSON)
	default:
		// Unknown delta types are skipped so new CLI deltas degrade instead
		// of killing the turn.
	}
	return nil
}

func (p *partialBlock) finalize(index int) (ContentBlock, error) {
	switch p.kind {
	case BlockTypeText:
		return &TextBlock{Text: p.text.String()}, nil
	case BlockTypeThinking:
		return &ThinkingBlock{Thinking: p.text.String(), Signature: p.signature.String()}, nil
	case BlockTypeToolUse:
		input := p.initialInput
		if frag := p.inputJSON.String(); frag != "" {
			input = nil
			if err := json.Unmarshal([]byte(frag), &input); err != nil {
				return nil, fmt.Errorf("tool input for block %d is not valid JSON: %w", index, err)
			}
		}
		if input == nil {
			input = map[string]any{}
		}
		return &ToolUseBlock{ID: p.toolID, Name: p.toolName, Input: input}, nil
	default:
		return p.static, nil
	}
}
