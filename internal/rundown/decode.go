// Package rundown decodes the wire format a rundown arrives in (JSON by
// default, YAML accepted for test fixtures per SPEC_FULL.md §D) into the
// internal model.Rundown the Orchestrator consumes.
package rundown

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mantonx/hap/internal/model"
)

// wireItem is the tagged-union wire shape for one rundown item; kind
// selects which of the optional fields are populated.
type wireItem struct {
	Kind string `json:"kind" yaml:"kind"` // "play", "transition", "title_card"

	// play
	ClipID         string         `json:"clipId,omitempty" yaml:"clipId,omitempty"`
	Source         string         `json:"source,omitempty" yaml:"source,omitempty"`
	Feed           string         `json:"feed,omitempty" yaml:"feed,omitempty"`
	AvailableFeeds map[string]string `json:"availableFeeds,omitempty" yaml:"availableFeeds,omitempty"`
	Selection      []int          `json:"selection,omitempty" yaml:"selection,omitempty"`

	// transition
	Half   string `json:"half,omitempty" yaml:"half,omitempty"`
	Inning int    `json:"inning,omitempty" yaml:"inning,omitempty"`

	// title_card
	TitleCardSourceURL string `json:"titleCardSourceUrl,omitempty" yaml:"titleCardSourceUrl,omitempty"`
}

type wireRundown struct {
	GameID string     `json:"gameId" yaml:"gameId"`
	Items  []wireItem `json:"items" yaml:"items"`
}

// DecodeJSON parses a rundown from JSON bytes.
func DecodeJSON(data []byte) (model.Rundown, error) {
	var w wireRundown
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Rundown{}, fmt.Errorf("decode rundown json: %w", err)
	}
	return toModel(w)
}

// DecodeYAML parses a rundown from YAML bytes, accepted for test fixtures.
func DecodeYAML(data []byte) (model.Rundown, error) {
	var w wireRundown
	if err := yaml.Unmarshal(data, &w); err != nil {
		return model.Rundown{}, fmt.Errorf("decode rundown yaml: %w", err)
	}
	return toModel(w)
}

func toModel(w wireRundown) (model.Rundown, error) {
	items := make([]model.RundownItem, 0, len(w.Items))
	for i, wi := range w.Items {
		item, err := itemToModel(wi)
		if err != nil {
			return model.Rundown{}, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return model.Rundown{GameID: w.GameID, Items: items}, nil
}

func itemToModel(wi wireItem) (model.RundownItem, error) {
	switch wi.Kind {
	case "play":
		feeds := make(map[model.Feed]string, len(wi.AvailableFeeds))
		for k, v := range wi.AvailableFeeds {
			feeds[model.Feed(k)] = v
		}
		selection := make(map[int]struct{}, len(wi.Selection))
		for _, idx := range wi.Selection {
			selection[idx] = struct{}{}
		}
		return model.RundownItem{
			Kind: model.ItemPlay,
			Clip: model.Clip{
				ID:             wi.ClipID,
				Source:         wi.Source,
				Feed:           model.Feed(wi.Feed),
				AvailableFeeds: feeds,
			},
			Selection: selection,
		}, nil
	case "transition":
		half := model.HalfInning(wi.Half)
		if half != model.HalfTop && half != model.HalfBot {
			return model.RundownItem{}, fmt.Errorf("unknown half %q", wi.Half)
		}
		return model.RundownItem{
			Kind:          model.ItemTransition,
			TransitionKey: model.TransitionKey{Half: half, Inning: wi.Inning},
		}, nil
	case "title_card":
		return model.RundownItem{
			Kind:               model.ItemTitleCard,
			TitleCardSourceURL: wi.TitleCardSourceURL,
		}, nil
	default:
		return model.RundownItem{}, fmt.Errorf("unknown item kind %q", wi.Kind)
	}
}
