package llm_test

import (
	"testing"

	"github.com/MrWong99/cadenza/pkg/provider/llm"
)

func TestChatContext_CopyIsDeep(t *testing.T) {
	t.Parallel()

	orig := llm.NewChatContext()
	orig.AddMessage(llm.RoleSystem, "be brief")
	orig.AddMessage(llm.RoleUser, "hello")

	cp := orig.Copy()
	cp.AddMessage(llm.RoleAssistant, "hi there")

	if orig.Len() != 2 {
		t.Errorf("original mutated by append to copy: len %d", orig.Len())
	}
	if cp.Len() != 3 {
		t.Errorf("copy: want 3 items, got %d", cp.Len())
	}

	// Mutating a message in the copy must not reach the original.
	cpMsg := cp.Items()[1].(*llm.Message)
	cpMsg.Content[0] = llm.TextPart{Text: "changed"}
	if got := orig.Items()[1].(*llm.Message).Text(); got != "hello" {
		t.Errorf("original message mutated through copy: %q", got)
	}
}

func TestChatContext_InsertionOrderPreserved(t *testing.T) {
	t.Parallel()

	c := llm.NewChatContext()
	c.AddMessage(llm.RoleUser, "one")
	c.Append(&llm.FunctionCall{CallID: "c1", Name: "getWeather", Args: `{"location":"SF"}`})
	c.Append(&llm.FunctionCallOutput{CallID: "c1", Name: "getWeather", Output: "sunny"})
	c.AddMessage(llm.RoleAssistant, "two")

	wantKinds := []llm.ItemKind{
		llm.ItemKindMessage,
		llm.ItemKindFunctionCall,
		llm.ItemKindFunctionCallOutput,
		llm.ItemKindMessage,
	}
	for i, it := range c.Items() {
		if it.Kind() != wantKinds[i] {
			t.Errorf("item %d: want kind %s, got %s", i, wantKinds[i], it.Kind())
		}
	}
}

func TestChatContext_ValidateCallIDs(t *testing.T) {
	t.Parallel()

	c := llm.NewChatContext()
	c.Append(&llm.FunctionCall{CallID: "c1", Name: "f"})
	c.Append(&llm.FunctionCallOutput{CallID: "c1", Name: "f", Output: "ok"})
	if err := c.Validate(); err != nil {
		t.Errorf("Validate with matching ids: %v", err)
	}

	bad := llm.NewChatContext()
	bad.Append(&llm.FunctionCallOutput{CallID: "orphan", Name: "f", Output: "?"})
	if err := bad.Validate(); err == nil {
		t.Error("Validate with orphan output: want error")
	}
}

func TestChatContext_TruncateKeepsLeadingSystem(t *testing.T) {
	t.Parallel()

	c := llm.NewChatContext()
	c.AddMessage(llm.RoleSystem, "instructions")
	for i := 0; i < 10; i++ {
		c.AddMessage(llm.RoleUser, "turn")
	}
	c.Truncate(4)

	items := c.Items()
	if first, ok := items[0].(*llm.Message); !ok || first.Role != llm.RoleSystem {
		t.Error("Truncate dropped the leading system message")
	}
	if len(items) != 5 { // system + last 4
		t.Errorf("Truncate: want 5 items, got %d", len(items))
	}
}

func TestToolContext_DuplicateNameRejected(t *testing.T) {
	t.Parallel()

	_, err := llm.NewToolContext(
		llm.FunctionTool{Name: "getTime"},
		llm.FunctionTool{Name: "getTime"},
	)
	if err == nil {
		t.Error("NewToolContext: want duplicate-name error")
	}
}

func TestToolContext_Lookup(t *testing.T) {
	t.Parallel()

	tc, err := llm.NewToolContext(
		llm.FunctionTool{Name: "b"},
		llm.FunctionTool{Name: "a"},
	)
	if err != nil {
		t.Fatalf("NewToolContext: %v", err)
	}
	if _, ok := tc.Get("a"); !ok {
		t.Error("Get(a): want found")
	}
	if _, ok := tc.Get("missing"); ok {
		t.Error("Get(missing): want not found")
	}
	names := tc.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names: want [a b], got %v", names)
	}
}
