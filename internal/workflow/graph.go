// Package workflow translates semantic generation parameters into a
// provider-specific execution graph and drives it to completion against a
// graph-execution backend such as a local ComfyUI server.
package workflow

import (
	"math/rand"
)

// Node is one typed computation step. Inputs reference other nodes' outputs
// as [nodeID, outputIndex] pairs, so the graph is an arena keyed by string
// handles with no pointer cycles.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is the full node arena submitted to the backend.
type Graph map[string]Node

// Params are the semantic inputs for one text-to-image invocation.
type Params struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Seed           int64
	Checkpoint     string
	FilenamePrefix string
}

const (
	defaultWidth      = 1024
	defaultHeight     = 576
	defaultSteps      = 25
	defaultCheckpoint = "sd_xl_base_1.0.safetensors"
)

// ref builds an input reference to output slot idx of node id.
func ref(id string, idx int) []any {
	return []any{id, idx}
}

// Build produces the execution graph for the given parameters. The result is
// deterministic for identical inputs except for the seed, which falls back to
// a process-random value when unset; tests inject a fixed seed.
func Build(p Params) Graph {
	if p.Width <= 0 {
		p.Width = defaultWidth
	}
	if p.Height <= 0 {
		p.Height = defaultHeight
	}
	if p.Steps <= 0 {
		p.Steps = defaultSteps
	}
	if p.Seed == 0 {
		p.Seed = rand.Int63()
	}
	if p.Checkpoint == "" {
		p.Checkpoint = defaultCheckpoint
	}
	if p.FilenamePrefix == "" {
		p.FilenamePrefix = "storyreel"
	}

	const (
		loader   = "1"
		positive = "2"
		negative = "3"
		latent   = "4"
		sampler  = "5"
		decoder  = "6"
		sink     = "7"
	)
	return Graph{
		loader: {
			ClassType: "CheckpointLoaderSimple",
			Inputs:    map[string]any{"ckpt_name": p.Checkpoint},
		},
		positive: {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": p.Prompt, "clip": ref(loader, 1)},
		},
		negative: {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": p.NegativePrompt, "clip": ref(loader, 1)},
		},
		latent: {
			ClassType: "EmptyLatentImage",
			Inputs:    map[string]any{"width": p.Width, "height": p.Height, "batch_size": 1},
		},
		sampler: {
			ClassType: "KSampler",
			Inputs: map[string]any{
				"model":        ref(loader, 0),
				"positive":     ref(positive, 0),
				"negative":     ref(negative, 0),
				"latent_image": ref(latent, 0),
				"seed":         p.Seed,
				"steps":        p.Steps,
				"cfg":          7.5,
				"sampler_name": "euler",
				"scheduler":    "normal",
				"denoise":      1.0,
			},
		},
		decoder: {
			ClassType: "VAEDecode",
			Inputs:    map[string]any{"samples": ref(sampler, 0), "vae": ref(loader, 2)},
		},
		sink: {
			ClassType: "SaveImage",
			Inputs:    map[string]any{"images": ref(decoder, 0), "filename_prefix": p.FilenamePrefix},
		},
	}
}
