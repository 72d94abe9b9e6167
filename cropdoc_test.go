package cropdoc

import "testing"

func TestInit(t *testing.T) {
	t.Run("no backend", func(t *testing.T) {
		cd, err := Init(InitOptions{})
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if cd.Completer != nil {
			t.Error("Expected nil completer without a backend")
		}
		if cd.Advisor.Available() {
			t.Error("Advisor should not be available without a backend")
		}
	})

	t.Run("llama backend", func(t *testing.T) {
		cd, err := Init(InitOptions{LlamaServer: "http://localhost:8080"})
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected, actual := "llama", cd.Completer.Name(); expected != actual {
			t.Errorf("Expected %q backend, got %q", expected, actual)
		}
		if !cd.Advisor.Available() {
			t.Error("Advisor should be available")
		}
	})

	t.Run("groq backend", func(t *testing.T) {
		cd, err := Init(InitOptions{GroqAPIKey: "gsk_test"})
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected, actual := "groq", cd.Completer.Name(); expected != actual {
			t.Errorf("Expected %q backend, got %q", expected, actual)
		}
	})

	t.Run("multiple backends rejected", func(t *testing.T) {
		if _, err := Init(InitOptions{GroqAPIKey: "gsk_test", LlamaServer: "http://localhost:8080"}); err == nil {
			t.Error("Expected error for multiple backends")
		}
	})
}
