package providers

import (
	"context"
	"fmt"

	"storyreel/internal/domain"
	"storyreel/internal/jsonrepair"
)

// StoryTeller is implemented by text clients that own their scene-split
// prompt. Clients without it get the generic schema prompt below.
type StoryTeller interface {
	GenerateStory(ctx context.Context, story string) (map[string]any, bool, error)
}

// ScriptService produces structured scene breakdowns using whichever text
// provider the user has configured.
type ScriptService struct {
	selector *Selector
}

// NewScriptService wires the script path onto the provider selector.
func NewScriptService(selector *Selector) *ScriptService {
	return &ScriptService{selector: selector}
}

// GenerateStory resolves a text provider for the user and asks it for the
// scene-split JSON. The bool reports whether structured data came back;
// false means the raw-text sentinel was substituted.
func (s *ScriptService) GenerateStory(ctx context.Context, userID, story string) (map[string]any, bool, error) {
	sel, err := s.selector.Select(ctx, userID, CapabilityText)
	if err != nil {
		return nil, false, err
	}
	if teller, ok := sel.Client.(StoryTeller); ok {
		return teller.GenerateStory(ctx, story)
	}

	prompt := fmt.Sprintf(
		`Split the following story into numbered scenes for a short-form video. Respond strictly with JSON matching this schema: {"title":string,"scenes":[{"sceneNumber":number,"text":string,"imagePrompt":string}]}. Story: %s`,
		story,
	)
	res, err := sel.Client.Generate(ctx, Request{Type: domain.JobType("text"), Payload: domain.JobPayload{Prompt: prompt}})
	if err != nil {
		return nil, false, err
	}
	repaired := jsonrepair.Repair(res.Text)
	return repaired.Data, repaired.Recovered, nil
}
