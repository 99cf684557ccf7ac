package workflow

import (
	"encoding/json"
	"testing"
)

func TestBuildIsDeterministicWithSeed(t *testing.T) {
	p := Params{Prompt: "a lighthouse at dusk", NegativePrompt: "blurry", Width: 512, Height: 512, Steps: 20, Seed: 42}
	a, _ := json.Marshal(Build(p))
	b, _ := json.Marshal(Build(p))
	if string(a) != string(b) {
		t.Fatalf("graphs differ for identical params:\n%s\n%s", a, b)
	}
}

func TestBuildDefaultsRandomSeed(t *testing.T) {
	p := Params{Prompt: "x"}
	g1 := Build(p)
	g2 := Build(p)
	s1 := g1["5"].Inputs["seed"].(int64)
	s2 := g2["5"].Inputs["seed"].(int64)
	if s1 == 0 || s2 == 0 {
		t.Fatal("unset seed must default to a random value")
	}
	if s1 == s2 {
		t.Fatal("two builds without a seed should not share one")
	}
}

func TestBuildWiring(t *testing.T) {
	g := Build(Params{Prompt: "p", NegativePrompt: "n", Seed: 7})

	if got := g["2"].Inputs["text"]; got != "p" {
		t.Fatalf("positive encode text = %v", got)
	}
	if got := g["3"].Inputs["text"]; got != "n" {
		t.Fatalf("negative encode text = %v", got)
	}
	sampler := g["5"]
	if sampler.ClassType != "KSampler" {
		t.Fatalf("node 5 = %s, want KSampler", sampler.ClassType)
	}
	model := sampler.Inputs["model"].([]any)
	if model[0] != "1" || model[1] != 0 {
		t.Fatalf("sampler model ref = %v", model)
	}
	sink := g["7"]
	if sink.ClassType != "SaveImage" {
		t.Fatalf("node 7 = %s, want SaveImage", sink.ClassType)
	}
	images := sink.Inputs["images"].([]any)
	if images[0] != "6" {
		t.Fatalf("sink must consume the decoder output, got %v", images)
	}

	// Handles must stay acyclic: every reference points at a declared node.
	for id, node := range g {
		for name, input := range node.Inputs {
			pair, ok := input.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			target, _ := pair[0].(string)
			if _, exists := g[target]; !exists {
				t.Fatalf("node %s input %s references missing node %q", id, name, target)
			}
		}
	}
}
