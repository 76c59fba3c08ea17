package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/itiky/list-mirror/model"
	"github.com/itiky/list-mirror/storage"
)

// Scenario is a scripted remote collection: batches are pushed in order, every "load more" request appends the
// next page.
type Scenario struct {
	Collection  model.CollectionId               `yaml:"collection"`
	Batches     [][]model.DiffOp[model.ListItem] `yaml:"batches"`
	Pages       [][]model.ListItem               `yaml:"pages,omitempty"`
	CurrentItem *model.ListItem                  `yaml:"currentItem,omitempty"`
}

// Validate checks the scenario.
func (s Scenario) Validate() error {
	if s.Collection == "" {
		return fmt.Errorf("%s: empty", "collection")
	}
	if len(s.Batches) == 0 {
		return fmt.Errorf("%s: empty", "batches")
	}

	return nil
}

// Expected returns the list a mirror must converge to once all the batches and pages are applied.
func (s Scenario) Expected() []model.ListItem {
	list := make([]model.ListItem, 0)
	apply := func(ops []model.DiffOp[model.ListItem]) {
		if len(ops) == 0 {
			return
		}
		list, _ = model.ApplyDiffOps(list, ops...)
		list, _ = storage.Dedupe(list, model.ListItemKey)
	}

	for _, batch := range s.Batches {
		apply(batch)
	}
	for _, page := range s.Pages {
		apply([]model.DiffOp[model.ListItem]{model.Append(page...)})
	}

	return list
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(filePath string) (Scenario, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Scenario{}, fmt.Errorf("reading file: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario: %w", err)
	}

	return s, nil
}

// SaveScenario writes a YAML scenario file.
func SaveScenario(filePath string, s Scenario) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
