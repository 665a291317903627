package assistant

import "testing"

func TestNewOpenAICompleter_DefaultModel(t *testing.T) {
	if got := NewOpenAICompleter("sk-test", "").model; got != DefaultModel {
		t.Errorf("model = %q, want %q", got, DefaultModel)
	}
	if got := NewOpenAICompleter("sk-test", "gpt-4o").model; got != "gpt-4o" {
		t.Errorf("model = %q, want configured model", got)
	}
}
