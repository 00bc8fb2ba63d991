package automation

import "testing"

func TestTriggerCapturesAndAnchoring(t *testing.T) {
	trigger, err := CompileTrigger("!weather {city}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	params, ok := trigger.Match("!weather Berlin")
	if !ok {
		t.Fatalf("expected match")
	}
	if params["city"] != "Berlin" {
		t.Fatalf("city = %q, want Berlin", params["city"])
	}

	// The pattern is anchored: partial matches do not fire.
	if _, ok := trigger.Match("say !weather Berlin"); ok {
		t.Fatalf("unanchored prefix matched")
	}
	if _, ok := trigger.Match("!weather Berlin today"); ok {
		t.Fatalf("default capture crossed whitespace")
	}
	if _, ok := trigger.Match("!weather"); ok {
		t.Fatalf("missing capture matched")
	}
}

func TestTriggerTypedCapture(t *testing.T) {
	trigger, err := CompileTrigger(`!dice {sides:\d+}`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	params, ok := trigger.Match("!dice 20")
	if !ok || params["sides"] != "20" {
		t.Fatalf("match = %v %v", params, ok)
	}
	if _, ok := trigger.Match("!dice twenty"); ok {
		t.Fatalf("non-numeric capture matched \\d+")
	}
}

func TestTriggerCharacterClassCapture(t *testing.T) {
	trigger, err := CompileTrigger("ping {name:[A-Z]+}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	params, ok := trigger.Match("ping FOO")
	if !ok || params["name"] != "FOO" {
		t.Fatalf("match = %v %v", params, ok)
	}
	if _, ok := trigger.Match("ping foo"); ok {
		t.Fatalf("lowercase input matched [A-Z]+")
	}
}

func TestTriggerBraceQuantifierInCapture(t *testing.T) {
	trigger, err := CompileTrigger(`!grid {loc:[A-Z]{2}\d{2}}`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	params, ok := trigger.Match("!grid JN58")
	if !ok || params["loc"] != "JN58" {
		t.Fatalf("match = %v %v", params, ok)
	}
}

func TestTriggerLiteralsAreEscaped(t *testing.T) {
	trigger, err := CompileTrigger("ping?")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if _, ok := trigger.Match("ping?"); !ok {
		t.Fatalf("literal question mark did not match itself")
	}
	// A bare regex reading of "ping?" would accept "pin".
	if _, ok := trigger.Match("pin"); ok {
		t.Fatalf("literal was treated as a regex quantifier")
	}
}

func TestTriggerMultipleCaptures(t *testing.T) {
	trigger, err := CompileTrigger("relay {target} {text:.+}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	params, ok := trigger.Match("relay !a1b2c3d4 hello out there")
	if !ok {
		t.Fatalf("expected match")
	}
	if params["target"] != "!a1b2c3d4" || params["text"] != "hello out there" {
		t.Fatalf("params = %v", params)
	}
}

func TestTriggerCaptureWithInnerGroupKeepsLaterCapturesAligned(t *testing.T) {
	trigger, err := CompileTrigger("ping {a:(foo|bar)} {b}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	params, ok := trigger.Match("ping foo xyz")
	if !ok {
		t.Fatalf("expected match")
	}
	if params["a"] != "foo" || params["b"] != "xyz" {
		t.Fatalf("params = %v, want a=foo b=xyz", params)
	}

	// Several nested groups before and between captures.
	trigger, err = CompileTrigger(`{kind:(get|set)(ting)?} {key:[a-z]+} {value}`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	params, ok = trigger.Match("setting power high")
	if !ok {
		t.Fatalf("expected match")
	}
	if params["kind"] != "setting" || params["key"] != "power" || params["value"] != "high" {
		t.Fatalf("params = %v", params)
	}
}

func TestTriggerRejectsBadPatterns(t *testing.T) {
	for _, pattern := range []string{
		"open {",
		"bad {name",
		"{:x}",
		"{na me}",
		`{x:[}`,
	} {
		if _, err := CompileTrigger(pattern); err == nil {
			t.Errorf("pattern %q compiled, want error", pattern)
		}
	}
}
