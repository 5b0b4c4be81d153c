package claudecode

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseContentBlockText(t *testing.T) {
	block, err := ParseContentBlock(json.RawMessage(`{"type":"text","text":"hello"}`))
	if err != nil {
		t.Fatalf("ParseContentBlock failed: %v", err)
	}
	text, ok := block.(*TextBlock)
	if !ok {
		t.Fatalf("expected *TextBlock, got %T", block)
	}
	if text.Text != "hello" {
		t.Errorf("expected text 'hello', got %q", text.Text)
	}
}

func TestParseContentBlockThinking(t *testing.T) {
	block, err := ParseContentBlock(json.RawMessage(`{"type":"thinking","thinking":"hmm","signature":"sig-1"}`))
	if err != nil {
		t.Fatalf("ParseContentBlock failed: %v", err)
	}
	thinking, ok := block.(*ThinkingBlock)
	if !ok {
		t.Fatalf("expected *ThinkingBlock, got %T", block)
	}
	if thinking.Thinking != "hmm" || thinking.Signature != "sig-1" {
		t.Errorf("unexpected thinking block: %+v", thinking)
	}
}

func TestParseContentBlockToolUse(t *testing.T) {
	block, err := ParseContentBlock(json.RawMessage(`{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}`))
	if err != nil {
		t.Fatalf("ParseContentBlock failed: %v", err)
	}
	use, ok := block.(*ToolUseBlock)
	if !ok {
		t.Fatalf("expected *ToolUseBlock, got %T", block)
	}
	if use.ID != "toolu_1" || use.Name != "Bash" {
		t.Errorf("unexpected tool_use block: %+v", use)
	}
	if use.Input["command"] != "ls" {
		t.Errorf("expected input command 'ls', got %v", use.Input)
	}
}

func TestParseContentBlockToolUseMissingInput(t *testing.T) {
	block, err := ParseContentBlock(json.RawMessage(`{"type":"tool_use","id":"toolu_2","name":"Read"}`))
	if err != nil {
		t.Fatalf("ParseContentBlock failed: %v", err)
	}
	use := block.(*ToolUseBlock)
	if use.Input == nil {
		t.Error("expected empty input map, got nil")
	}
}

func TestParseContentBlockMissingFields(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"text without text", `{"type":"text"}`},
		{"thinking without thinking", `{"type":"thinking","signature":"s"}`},
		{"tool_use without id", `{"type":"tool_use","name":"Bash"}`},
		{"tool_use without name", `{"type":"tool_use","id":"toolu_1"}`},
		{"tool_result without tool_use_id", `{"type":"tool_result","content":"out"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseContentBlock(json.RawMessage(tt.json)); err == nil {
				t.Errorf("expected error for %s", tt.json)
			}
		})
	}
}

func TestParseContentBlockUnknownType(t *testing.T) {
	_, err := ParseContentBlock(json.RawMessage(`{"type":"video","data":"..."}`))
	if !errors.Is(err, ErrUnknownBlockType) {
		t.Fatalf("expected ErrUnknownBlockType, got %v", err)
	}
	if !strings.Contains(err.Error(), "video") {
		t.Errorf("expected error to name the unknown type, got %v", err)
	}
}

func TestToolResultContentStringForm(t *testing.T) {
	raw := json.RawMessage(`{"type":"tool_result","tool_use_id":"toolu_1","content":"file contents","is_error":false}`)
	block, err := ParseContentBlock(raw)
	if err != nil {
		t.Fatalf("ParseContentBlock failed: %v", err)
	}
	result := block.(*ToolResultBlock)
	if !result.Content.IsText() {
		t.Fatal("expected string-form content")
	}
	if result.Content.Text() != "file contents" {
		t.Errorf("unexpected content text %q", result.Content.Text())
	}
	if result.IsError == nil || *result.IsError {
		t.Errorf("expected is_error false, got %v", result.IsError)
	}

	// The string form must survive re-encoding as a string, not a list.
	encoded, err := MarshalContentBlock(result)
	if err != nil {
		t.Fatalf("MarshalContentBlock failed: %v", err)
	}
	if !strings.Contains(string(encoded), `"content":"file contents"`) {
		t.Errorf("string form coerced on encode: %s", encoded)
	}
}

func TestToolResultContentBlockForm(t *testing.T) {
	raw := json.RawMessage(`{"type":"tool_result","tool_use_id":"toolu_2","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}`)
	block, err := ParseContentBlock(raw)
	if err != nil {
		t.Fatalf("ParseContentBlock failed: %v", err)
	}
	result := block.(*ToolResultBlock)
	if result.Content.IsText() {
		t.Fatal("expected block-form content")
	}
	blocks := result.Content.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("expected 2 nested blocks, got %d", len(blocks))
	}
	for i, b := range blocks {
		if _, ok := b.(*TextBlock); !ok {
			t.Errorf("expected nested block %d to be *TextBlock, got %T", i, b)
		}
	}
	if result.Content.Text() != "part one\npart two" {
		t.Errorf("unexpected joined text %q", result.Content.Text())
	}

	// The list form must survive re-encoding as a list.
	encoded, err := MarshalContentBlock(result)
	if err != nil {
		t.Fatalf("MarshalContentBlock failed: %v", err)
	}
	if !strings.Contains(string(encoded), `"content":[`) {
		t.Errorf("list form coerced on encode: %s", encoded)
	}
}

func TestToolResultContentNestedValidation(t *testing.T) {
	// Nested blocks of a known kind go through the block parser, so a text
	// block without its text field fails the whole tool_result.
	raw := json.RawMessage(`{"type":"tool_result","tool_use_id":"toolu_4","content":[{"type":"text"}]}`)
	if _, err := ParseContentBlock(raw); err == nil {
		t.Fatal("expected error for invalid nested text block")
	}
}

func TestToolResultContentUnknownNestedKind(t *testing.T) {
	raw := json.RawMessage(`{"type":"tool_result","tool_use_id":"toolu_5","content":[{"type":"text","text":"ok"},{"type":"image","source":{"data":"zz"}}]}`)
	block, err := ParseContentBlock(raw)
	if err != nil {
		t.Fatalf("ParseContentBlock failed: %v", err)
	}
	result := block.(*ToolResultBlock)
	blocks := result.Content.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("expected 2 nested blocks, got %d", len(blocks))
	}
	if _, ok := blocks[0].(*TextBlock); !ok {
		t.Errorf("expected first block to be *TextBlock, got %T", blocks[0])
	}
	unknown, ok := blocks[1].(*UnknownBlock)
	if !ok {
		t.Fatalf("expected *UnknownBlock, got %T", blocks[1])
	}
	if unknown.Type != "image" {
		t.Errorf("expected preserved type image, got %q", unknown.Type)
	}

	// The unknown kind re-encodes byte for byte.
	encoded, err := MarshalContentBlock(result)
	if err != nil {
		t.Fatalf("MarshalContentBlock failed: %v", err)
	}
	if !strings.Contains(string(encoded), `{"type":"image","source":{"data":"zz"}}`) {
		t.Errorf("unknown block did not round-trip verbatim: %s", encoded)
	}
}

func TestToolResultContentAbsent(t *testing.T) {
	raw := json.RawMessage(`{"type":"tool_result","tool_use_id":"toolu_3"}`)
	block, err := ParseContentBlock(raw)
	if err != nil {
		t.Fatalf("ParseContentBlock failed: %v", err)
	}
	result := block.(*ToolResultBlock)
	if result.Content != nil {
		t.Errorf("expected nil content, got %+v", result.Content)
	}
}

func TestUserContentForms(t *testing.T) {
	var text UserContent
	if err := json.Unmarshal([]byte(`"plain prompt"`), &text); err != nil {
		t.Fatalf("unmarshal string form: %v", err)
	}
	if !text.IsText() || text.Text() != "plain prompt" {
		t.Errorf("unexpected string-form content: %q", text.Text())
	}

	var blocks UserContent
	raw := `[{"type":"tool_result","tool_use_id":"toolu_1","content":"done"},{"type":"text","text":"and"}]`
	if err := json.Unmarshal([]byte(raw), &blocks); err != nil {
		t.Fatalf("unmarshal block form: %v", err)
	}
	if blocks.IsText() {
		t.Fatal("expected block-form content")
	}
	if len(blocks.Blocks()) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks.Blocks()))
	}
	if _, ok := blocks.Blocks()[0].(*ToolResultBlock); !ok {
		t.Errorf("expected first block to be *ToolResultBlock, got %T", blocks.Blocks()[0])
	}

	// Round-trip keeps the form.
	encoded, err := json.Marshal(&blocks)
	if err != nil {
		t.Fatalf("marshal block form: %v", err)
	}
	if !strings.HasPrefix(string(encoded), "[") {
		t.Errorf("block form coerced on encode: %s", encoded)
	}
}

func TestMarshalContentBlockDiscriminators(t *testing.T) {
	blocks := []ContentBlock{
		&TextBlock{Text: "t"},
		&ThinkingBlock{Thinking: "th"},
		&ToolUseBlock{ID: "toolu_1", Name: "Bash", Input: map[string]any{}},
		&ToolResultBlock{ToolUseID: "toolu_1", Content: TextResultContent("ok")},
	}
	wantTypes := []string{BlockTypeText, BlockTypeThinking, BlockTypeToolUse, BlockTypeToolResult}

	for i, block := range blocks {
		data, err := MarshalContentBlock(block)
		if err != nil {
			t.Fatalf("MarshalContentBlock(%T) failed: %v", block, err)
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			t.Fatalf("re-decode failed: %v", err)
		}
		if probe.Type != wantTypes[i] {
			t.Errorf("expected type %q, got %q", wantTypes[i], probe.Type)
		}
		// Round-trip through the parser.
		if _, err := ParseContentBlock(data); err != nil {
			t.Errorf("round-trip of %T failed: %v", block, err)
		}
	}
}
