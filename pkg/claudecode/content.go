package claudecode

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Content block types
const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ContentBlock is one block of assistant or user message content: text,
// thinking, tool_use or tool_result.
type ContentBlock interface {
	blockType() string
}

// TextBlock is plain assistant text.
type TextBlock struct {
	Text string `json:"text"`
}

func (*TextBlock) blockType() string { return BlockTypeText }

// ThinkingBlock is extended thinking output with its integrity signature.
type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

func (*ThinkingBlock) blockType() string { return BlockTypeThinking }

// ToolUseBlock is a tool invocation requested by the model.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (*ToolUseBlock) blockType() string { return BlockTypeToolUse }

// ToolResultBlock carries the outcome of a tool invocation back to the model.
type ToolResultBlock struct {
	ToolUseID string             `json:"tool_use_id"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   *bool              `json:"is_error,omitempty"`
}

func (*ToolResultBlock) blockType() string { return BlockTypeToolResult }

// UnknownBlock preserves a content block whose type is outside the modeled
// set (an image block, for one) so it round-trips unmodified.
type UnknownBlock struct {
	Type string
	Raw  json.RawMessage
}

func (b *UnknownBlock) blockType() string { return b.Type }

// ToolResultContent is tool result content in either of its two wire forms: a
// plain string or a list of nested blocks. The original form is preserved
// through decode and encode. List content is parsed block by block; kinds
// outside the modeled set are kept as UnknownBlock rather than rejected.
type ToolResultContent struct {
	text   string
	blocks []ContentBlock
	isText bool
}

// TextResultContent wraps a plain string as tool result content.
func TextResultContent(text string) *ToolResultContent {
	return &ToolResultContent{text: text, isText: true}
}

// BlocksResultContent wraps a block list as tool result content.
func BlocksResultContent(blocks []ContentBlock) *ToolResultContent {
	return &ToolResultContent{blocks: blocks}
}

// IsText reports whether the content arrived as a plain string.
func (c *ToolResultContent) IsText() bool { return c.isText }

// Text returns the string form, or the concatenated text of nested text
// blocks when the content arrived as a list.
func (c *ToolResultContent) Text() string {
	if c.isText {
		return c.text
	}
	var parts []string
	for _, b := range c.blocks {
		if text, ok := b.(*TextBlock); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Blocks returns the typed block list, or nil for string content.
func (c *ToolResultContent) Blocks() []ContentBlock {
	if c.isText {
		return nil
	}
	return c.blocks
}

func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		c.isText = true
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("tool_result content is neither string nor block list: %w", err)
	}
	blocks, err := parseContentBlocksLenient(raws)
	if err != nil {
		return fmt.Errorf("tool_result content: %w", err)
	}
	c.blocks = blocks
	c.isText = false
	return nil
}

func (c *ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.text)
	}
	return ContentBlocks(c.blocks).MarshalJSON()
}

// MarshalContentBlock encodes a block with its type discriminator.
func MarshalContentBlock(block ContentBlock) ([]byte, error) {
	switch b := block.(type) {
	case *TextBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			*TextBlock
		}{BlockTypeText, b})
	case *ThinkingBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			*ThinkingBlock
		}{BlockTypeThinking, b})
	case *ToolUseBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			*ToolUseBlock
		}{BlockTypeToolUse, b})
	case *ToolResultBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			*ToolResultBlock
		}{BlockTypeToolResult, b})
	case *UnknownBlock:
		if len(b.Raw) > 0 {
			return b.Raw, nil
		}
		return json.Marshal(map[string]string{"type": b.Type})
	default:
		return nil, fmt.Errorf("unsupported content block type %T", block)
	}
}

// ContentBlocks is a decoded block list that re-encodes with discriminators.
type ContentBlocks []ContentBlock

func (blocks ContentBlocks) MarshalJSON() ([]byte, error) {
	parts := make([]json.RawMessage, 0, len(blocks))
	for _, b := range blocks {
		data, err := MarshalContentBlock(b)
		if err != nil {
			return nil, err
		}
		parts = append(parts, data)
	}
	return json.Marshal(parts)
}

func (blocks *ContentBlocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	parsed, err := ParseContentBlocks(raws)
	if err != nil {
		return err
	}
	*blocks = parsed
	return nil
}

// UserContent is user message content in either of its two wire forms: a
// plain prompt string or a list of typed content blocks (tool results, text).
type UserContent struct {
	text   string
	blocks []ContentBlock
	isText bool
}

// TextUserContent wraps a plain prompt string.
func TextUserContent(text string) *UserContent {
	return &UserContent{text: text, isText: true}
}

// BlocksUserContent wraps typed content blocks.
func BlocksUserContent(blocks []ContentBlock) *UserContent {
	return &UserContent{blocks: blocks}
}

// IsText reports whether the content arrived as a plain string.
func (c *UserContent) IsText() bool { return c.isText }

// Text returns the string form, or the concatenated text blocks when the
// content arrived as a list.
func (c *UserContent) Text() string {
	if c.isText {
		return c.text
	}
	var parts []string
	for _, b := range c.blocks {
		if text, ok := b.(*TextBlock); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Blocks returns the typed block list, or nil for string content.
func (c *UserContent) Blocks() []ContentBlock {
	if c.isText {
		return nil
	}
	return c.blocks
}

func (c *UserContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		c.isText = true
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("user content is neither string nor block list: %w", err)
	}
	blocks, err := ParseContentBlocks(raws)
	if err != nil {
		return err
	}
	c.blocks = blocks
	c.isText = false
	return nil
}

func (c *UserContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.text)
	}
	return ContentBlocks(c.blocks).MarshalJSON()
}

// ParseContentBlock decodes one content block, validating the fields its type
// requires.
func ParseContentBlock(raw json.RawMessage) (ContentBlock, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode content block: %w", err)
	}

	switch probe.Type {
	case BlockTypeText:
		var wire struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("decode text block: %w", err)
		}
		if wire.Text == nil {
			return nil, fmt.Errorf("text block missing text field")
		}
		return &TextBlock{Text: *wire.Text}, nil

	case BlockTypeThinking:
		var wire struct {
			Thinking  *string `json:"thinking"`
			Signature string  `json:"signature"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("decode thinking block: %w", err)
		}
		if wire.Thinking == nil {
			return nil, fmt.Errorf("thinking block missing thinking field")
		}
		return &ThinkingBlock{Thinking: *wire.Thinking, Signature: wire.Signature}, nil

	case BlockTypeToolUse:
		var wire struct {
			ID    *string        `json:"id"`
			Name  *string        `json:"name"`
			Input map[string]any `json:"input"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("decode tool_use block: %w", err)
		}
		if wire.ID == nil || wire.Name == nil {
			return nil, fmt.Errorf("tool_use block missing id or name field")
		}
		if wire.Input == nil {
			wire.Input = map[string]any{}
		}
		return &ToolUseBlock{ID: *wire.ID, Name: *wire.Name, Input: wire.Input}, nil

	case BlockTypeToolResult:
		var wire struct {
			ToolUseID *string            `json:"tool_use_id"`
			Content   *ToolResultContent `json:"content"`
			IsError   *bool              `json:"is_error"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("decode tool_result block: %w", err)
		}
		if wire.ToolUseID == nil {
			return nil, fmt.Errorf("tool_result block missing tool_use_id field")
		}
		return &ToolResultBlock{ToolUseID: *wire.ToolUseID, Content: wire.Content, IsError: wire.IsError}, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBlockType, probe.Type)
	}
}

// ParseContentBlocks decodes a block list in order.
func ParseContentBlocks(raws []json.RawMessage) ([]ContentBlock, error) {
	blocks := make([]ContentBlock, 0, len(raws))
	for i, raw := range raws {
		block, err := ParseContentBlock(raw)
		if err != nil {
			return nil, fmt.Errorf("content block %d: %w", i, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// parseContentBlocksLenient decodes a block list, keeping kinds outside the
// modeled set as UnknownBlock. Blocks of a known kind are still validated.
func parseContentBlocksLenient(raws []json.RawMessage) ([]ContentBlock, error) {
	blocks := make([]ContentBlock, 0, len(raws))
	for i, raw := range raws {
		block, err := ParseContentBlock(raw)
		if errors.Is(err, ErrUnknownBlockType) {
			var probe struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(raw, &probe)
			blocks = append(blocks, &UnknownBlock{Type: probe.Type, Raw: raw})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("content block %d: %w", i, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
