package assets

import (
	"context"
	"encoding/json"
	"fmt"

	"tessera.dev/sync/state"
)

const SceneKind = "scene"

// scene snapshot layout
type sceneContent struct {
	Values map[string]any `json:"values"`
	// entry ids this scene places instances of
	EntryRefs []string `json:"entry_refs"`
}

// SceneAsset is a composition of other entries. Its correctness depends on
// every referenced entry continuing to exist, so restore records one
// dependency edge per reference and raises a diagnostic for each broken
// one.
type SceneAsset struct {
	options *Options

	record    *state.Record
	entryRefs []string
}

func NewSceneAsset() Asset {
	return &SceneAsset{}
}

func SceneSchema() *state.Schema {
	return &state.Schema{
		Fields: map[string]*state.FieldRule{
			"background": {
				Type:    state.FieldTypeString,
				Max:     state.Limit(64),
				Mutable: true,
			},
			"width": {
				Type:    state.FieldTypeNumber,
				Min:     state.Limit(1),
				Max:     state.Limit(16384),
				Mutable: true,
			},
			"height": {
				Type:    state.FieldTypeNumber,
				Min:     state.Limit(1),
				Max:     state.Limit(16384),
				Mutable: true,
			},
		},
	}
}

func (self *SceneAsset) Init(options *Options) {
	self.options = options
}

func (self *SceneAsset) Setup() error {
	content := &sceneContent{}
	if self.options.Content != nil {
		if err := json.Unmarshal(self.options.Content, content); err != nil {
			return fmt.Errorf("scene %s: %w", self.options.EntryId, err)
		}
	}
	if content.Values == nil {
		content.Values = map[string]any{}
	}
	record, err := state.NewRecord(SceneSchema(), content.Values)
	if err != nil {
		return err
	}
	self.record = record
	self.entryRefs = content.EntryRefs
	return nil
}

// Restore re-validates every entry reference, recording dependency edges
// and diagnostics into the tree side maps. Called again when a referenced
// entry is removed.
func (self *SceneAsset) Restore(ctx context.Context) error {
	diagnostics := []state.Diagnostic{}
	live := []string{}
	for _, entryRef := range self.entryRefs {
		if !self.options.Reporter.HasEntry(entryRef) {
			diagnostics = append(diagnostics, state.Diagnostic{
				Type:    "missing_reference",
				Message: fmt.Sprintf("referenced entry %s does not exist", entryRef),
			})
			continue
		}
		live = append(live, entryRef)
	}
	self.options.Reporter.SetDependencies(self.options.EntryId, live)
	self.options.Reporter.SetDiagnostics(self.options.EntryId, diagnostics)
	return nil
}

func (self *SceneAsset) Destroy() {
	self.record = nil
	self.entryRefs = nil
}

func (self *SceneAsset) Schema() *state.Schema {
	return SceneSchema()
}

func (self *SceneAsset) Record() *state.Record {
	return self.record
}

// Snapshot serializes the current scene state for persistence.
func (self *SceneAsset) Snapshot() ([]byte, error) {
	return json.Marshal(&sceneContent{
		Values:    self.record.Values(),
		EntryRefs: self.entryRefs,
	})
}
