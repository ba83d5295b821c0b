package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tessera.dev/sync/state"
)

const ScriptKind = "script"

type scriptContent struct {
	Values map[string]any `json:"values"`
	Source string         `json:"source"`
}

// ScriptAsset holds a source text. Restore runs a shallow syntax check and
// raises diagnostics for what it finds; it records no dependency edges.
type ScriptAsset struct {
	options *Options

	record *state.Record
	source string
}

func NewScriptAsset() Asset {
	return &ScriptAsset{}
}

func ScriptSchema() *state.Schema {
	return &state.Schema{
		Fields: map[string]*state.FieldRule{
			"language": {
				Type:    state.FieldTypeString,
				Max:     state.Limit(32),
				Mutable: true,
			},
			"entry_point": {
				Type:    state.FieldTypeString,
				Max:     state.Limit(128),
				Mutable: true,
			},
		},
	}
}

func (self *ScriptAsset) Init(options *Options) {
	self.options = options
}

func (self *ScriptAsset) Setup() error {
	content := &scriptContent{}
	if self.options.Content != nil {
		if err := json.Unmarshal(self.options.Content, content); err != nil {
			return fmt.Errorf("script %s: %w", self.options.EntryId, err)
		}
	}
	if content.Values == nil {
		content.Values = map[string]any{}
	}
	record, err := state.NewRecord(ScriptSchema(), content.Values)
	if err != nil {
		return err
	}
	self.record = record
	self.source = content.Source
	return nil
}

func (self *ScriptAsset) Restore(ctx context.Context) error {
	diagnostics := []state.Diagnostic{}
	if strings.TrimSpace(self.source) == "" {
		diagnostics = append(diagnostics, state.Diagnostic{
			Type:    "empty_source",
			Message: "script has no source",
		})
	} else if d := strings.Count(self.source, "{") - strings.Count(self.source, "}"); d != 0 {
		diagnostics = append(diagnostics, state.Diagnostic{
			Type:    "unbalanced_braces",
			Message: fmt.Sprintf("source has %+d unmatched braces", d),
		})
	}
	self.options.Reporter.SetDiagnostics(self.options.EntryId, diagnostics)
	return nil
}

func (self *ScriptAsset) Destroy() {
	self.record = nil
	self.source = ""
}

func (self *ScriptAsset) Schema() *state.Schema {
	return ScriptSchema()
}

func (self *ScriptAsset) Record() *state.Record {
	return self.record
}

func (self *ScriptAsset) Snapshot() ([]byte, error) {
	return json.Marshal(&scriptContent{
		Values: self.record.Values(),
		Source: self.source,
	})
}
