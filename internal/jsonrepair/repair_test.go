package jsonrepair

import (
	"encoding/json"
	"reflect"
	"testing"
)

func mustParse(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("repaired output does not parse: %v\n%s", err, data)
	}
	return out
}

func TestRepairStrictObject(t *testing.T) {
	res := Repair(`{"title":"A","count":2}`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	if res.Data["title"] != "A" || res.Data["count"] != float64(2) {
		t.Fatalf("unexpected data: %#v", res.Data)
	}
}

func TestRepairFencedBlock(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"title\":\"A\",\"scenes\":[]}\n```\nHope that helps."
	res := Repair(raw)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	if res.Data["title"] != "A" {
		t.Fatalf("unexpected data: %#v", res.Data)
	}
}

func TestRepairProseWrappedObject(t *testing.T) {
	res := Repair(`Sure! The story is {"title":"B","ok":true} as requested.`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	if res.Data["title"] != "B" || res.Data["ok"] != true {
		t.Fatalf("unexpected data: %#v", res.Data)
	}
}

func TestRepairTruncatedMidString(t *testing.T) {
	res := Repair(`{"title":"A","scenes":[{"sceneNumber":1,"text":"hi`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	want := map[string]any{
		"title": "A",
		"scenes": []any{
			map[string]any{"sceneNumber": float64(1), "text": "hi"},
		},
	}
	got := mustParse(t, res.JSON)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestRepairTruncatedMidKey(t *testing.T) {
	res := Repair(`{"title":"A","scen`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	got := mustParse(t, res.JSON)
	if got["title"] != "A" {
		t.Fatalf("key before truncation lost: %#v", got)
	}
	if len(got) != 1 {
		t.Fatalf("dangling key should be dropped: %#v", got)
	}
}

func TestRepairTruncatedAfterColon(t *testing.T) {
	res := Repair(`{"title":"A","scenes":`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	got := mustParse(t, res.JSON)
	if got["title"] != "A" {
		t.Fatalf("key before truncation lost: %#v", got)
	}
}

func TestRepairTrailingComma(t *testing.T) {
	res := Repair(`{"a":1,"b":2,}`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	got := mustParse(t, res.JSON)
	if got["a"] != float64(1) || got["b"] != float64(2) {
		t.Fatalf("unexpected data: %#v", got)
	}
}

func TestRepairTruncatedMidEscape(t *testing.T) {
	res := Repair(`{"text":"line one\nline two\"quoted`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	got := mustParse(t, res.JSON)
	if got["text"] != "line one\nline two\"quoted" {
		t.Fatalf("escape sequence mangled: %#v", got)
	}
}

func TestRepairBracesInsideStrings(t *testing.T) {
	res := Repair(`{"snippet":"if (x) { return y; }","open":"}{","n":1`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	got := mustParse(t, res.JSON)
	if got["snippet"] != "if (x) { return y; }" || got["n"] != float64(1) {
		t.Fatalf("braces inside strings miscounted: %#v", got)
	}
}

func TestRepairTruncatedNestedArrays(t *testing.T) {
	res := Repair(`{"scenes":[{"n":1,"lines":["a","b`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	got := mustParse(t, res.JSON)
	scenes, ok := got["scenes"].([]any)
	if !ok || len(scenes) != 1 {
		t.Fatalf("unexpected scenes: %#v", got)
	}
	scene := scenes[0].(map[string]any)
	lines, ok := scene["lines"].([]any)
	if !ok || len(lines) != 2 || lines[1] != "b" {
		t.Fatalf("unexpected lines: %#v", scene)
	}
}

func TestRepairTruncatedMidLiteral(t *testing.T) {
	res := Repair(`{"a":1,"flag":tr`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	got := mustParse(t, res.JSON)
	if got["a"] != float64(1) {
		t.Fatalf("key before truncation lost: %#v", got)
	}
}

func TestRepairKeepsKeysAfterNestedClose(t *testing.T) {
	res := Repair(`{"a":{"b":1},"c":"tail`)
	if !res.Recovered {
		t.Fatal("expected recovery")
	}
	got := mustParse(t, res.JSON)
	if got["c"] != "tail" {
		t.Fatalf("key after last brace lost: %#v", got)
	}
}

func TestRepairSentinelOnNoBrace(t *testing.T) {
	raw := "The model refused to answer."
	res := Repair(raw)
	if res.Recovered {
		t.Fatal("expected sentinel fallback")
	}
	got := mustParse(t, res.JSON)
	if got[RawKey] != raw {
		t.Fatalf("sentinel must carry raw text verbatim: %#v", got)
	}
}

func TestRepairSentinelOnEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "```\n```"} {
		res := Repair(raw)
		if res.Recovered {
			t.Fatalf("expected sentinel for %q", raw)
		}
		if _, err := jsonValid(res.JSON); err != nil {
			t.Fatalf("sentinel must parse: %v", err)
		}
	}
}

func jsonValid(data []byte) (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal(data, &out)
	return out, err
}

func TestRepairIsDeterministic(t *testing.T) {
	raw := `{"title":"A","scenes":[{"n":1,"text":"hi`
	first := Repair(raw)
	second := Repair(raw)
	if string(first.JSON) != string(second.JSON) {
		t.Fatalf("repair not deterministic: %s vs %s", first.JSON, second.JSON)
	}
}
