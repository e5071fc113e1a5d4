package actions

import "testing"

func TestCompileRule_Invalid(t *testing.T) {
	r := &Rule{Expression: `record.status ==`}
	if err := CompileRule(r); err == nil {
		t.Fatal("expected compile error for malformed expression")
	}
}

func TestEvaluateRules_Violation(t *testing.T) {
	r := &Rule{
		Expression: `record.status == "Active"`,
		Message:    "Active records are locked",
	}
	if err := CompileRule(r); err != nil {
		t.Fatalf("compile: %v", err)
	}

	details := EvaluateRules([]*Rule{r},
		map[string]any{"status": "Active"}, nil, Actor{})
	if len(details) != 1 {
		t.Fatalf("expected one violation, got %v", details)
	}
	if details[0].Message != "Active records are locked" {
		t.Fatalf("wrong message: %q", details[0].Message)
	}

	details = EvaluateRules([]*Rule{r},
		map[string]any{"status": "Former"}, nil, Actor{})
	if len(details) != 0 {
		t.Fatalf("expected pass for Former, got %v", details)
	}
}

func TestEvaluateRules_PayloadAndActor(t *testing.T) {
	r := &Rule{
		Expression: `payload.amount_cents > 100000 && actor_email != "cfo@example.com"`,
		Message:    "Large amounts need the CFO",
	}

	details := EvaluateRules([]*Rule{r}, nil,
		map[string]any{"amount_cents": 500000}, Actor{Email: "dev@example.com"})
	if len(details) != 1 {
		t.Fatalf("expected violation for large amount, got %v", details)
	}

	details = EvaluateRules([]*Rule{r}, nil,
		map[string]any{"amount_cents": 500000}, Actor{Email: "cfo@example.com"})
	if len(details) != 0 {
		t.Fatalf("expected pass for cfo, got %v", details)
	}
}

func TestEvaluateRules_LazyCompile(t *testing.T) {
	// A rule registered without CompileRule still evaluates.
	r := &Rule{Expression: `record.locked == true`, Message: "Locked"}
	details := EvaluateRules([]*Rule{r},
		map[string]any{"locked": true}, nil, Actor{})
	if len(details) != 1 {
		t.Fatalf("expected violation via lazy compile, got %v", details)
	}
}
