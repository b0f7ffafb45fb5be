package llm

import "testing"

func TestToolCall_DecodeArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{"object", `{"product_id": 77, "include": "variants"}`, 2, false},
		{"empty", ``, 0, false},
		{"whitespace", "  \n", 0, false},
		{"null", `null`, 0, false},
		{"truncated", `{"product_id": 7`, 0, true},
		{"array", `[1,2]`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := ToolCall{ID: "c", Function: FunctionCall{Name: "get_product", Arguments: tt.raw}}
			args, err := tc.DecodeArguments()
			if tt.wantErr {
				if err == nil {
					t.Errorf("DecodeArguments(%q) should fail", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeArguments(%q): %v", tt.raw, err)
			}
			if args == nil || len(args) != tt.wantLen {
				t.Errorf("DecodeArguments(%q) = %v, want %d keys", tt.raw, args, tt.wantLen)
			}
		})
	}
}
