package replay

import (
	"encoding/json"
	"fmt"
	"os"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a labeled replay run.
type Fixture struct {
	Description string        `json:"description"`
	Samples     []LabeledUnit `json:"samples"`
}

// LabeledUnit is one recorded input with its ground-truth label: whether a
// reflex action would have been the right call.
type LabeledUnit struct {
	Text         string            `json:"text"`
	Mode         string            `json:"mode"`
	Tier         string            `json:"tier"`
	Extra        map[string]string `json:"extra,omitempty"`
	ActorID      string            `json:"actor_id"`
	TenantID     string            `json:"tenant_id"`
	ExpectReflex bool              `json:"expect_reflex"`
}

// #endregion fixture-types

// #region load

// LoadFixture reads a fixture from a JSON file.
func LoadFixture(path string) (Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	if len(f.Samples) == 0 {
		return Fixture{}, fmt.Errorf("fixture %s has no samples", path)
	}
	return f, nil
}

// #endregion load
