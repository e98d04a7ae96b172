package validate

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Op is the CRUD operation kind a validation run is keyed by.
type Op int

// Operation kinds.
const (
	OpCreate Op = iota
	OpRead
	OpUpdate
	OpDelete
	OpIsDelete
)

var opNames = [...]string{
	OpCreate:   "create",
	OpRead:     "read",
	OpUpdate:   "update",
	OpDelete:   "delete",
	OpIsDelete: "isDelete",
}

// String returns the operation name.
func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "unknown"
	}
	return opNames[o]
}

// SystemColumns names the engine-managed columns.
type SystemColumns struct {
	ID         string `yaml:"id"`
	IsDelete   string `yaml:"isDelete"`
	CreatedBy  string `yaml:"createdBy"`
	CreatedOn  string `yaml:"createdOn"`
	ModifiedBy string `yaml:"modifiedBy"`
	ModifiedOn string `yaml:"modifiedOn"`
}

// Rules is the process-wide, read-only validation configuration:
// per-operation forbidden-on-input field sets and the system column
// names. It is loaded once at startup and passed explicitly into the
// pipeline.
type Rules struct {
	forbidden map[Op][]string
	System    SystemColumns
}

// Default returns the compiled-in rule set.
func Default() *Rules {
	return &Rules{
		forbidden: map[Op][]string{
			OpCreate: {"id", "isDelete", "createdOn", "modifiedOn"},
			OpUpdate: {"isDelete", "createdBy", "createdOn", "modifiedOn"},
		},
		System: SystemColumns{
			ID:         "id",
			IsDelete:   "isDelete",
			CreatedBy:  "createdBy",
			CreatedOn:  "createdOn",
			ModifiedBy: "modifiedBy",
			ModifiedOn: "modifiedOn",
		},
	}
}

// Forbidden returns the forbidden-on-input fields of the operation.
func (r *Rules) Forbidden(op Op) []string {
	return r.forbidden[op]
}

type fileRules struct {
	Forbidden map[string][]string `yaml:"forbidden"`
	System    SystemColumns       `yaml:"system"`
}

// Load reads a YAML rules overlay on top of the defaults. Only the
// keys present in the document are overridden.
func Load(r io.Reader) (*Rules, error) {
	var fr fileRules
	if err := yaml.NewDecoder(r).Decode(&fr); err != nil {
		return nil, fmt.Errorf("validate: decode rules: %w", err)
	}
	rules := Default()
	for name, fields := range fr.Forbidden {
		found := false
		for op, opName := range opNames {
			if opName == name {
				rules.forbidden[Op(op)] = fields
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("validate: unknown operation %q in rules", name)
		}
	}
	overlay := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	overlay(&rules.System.ID, fr.System.ID)
	overlay(&rules.System.IsDelete, fr.System.IsDelete)
	overlay(&rules.System.CreatedBy, fr.System.CreatedBy)
	overlay(&rules.System.CreatedOn, fr.System.CreatedOn)
	overlay(&rules.System.ModifiedBy, fr.System.ModifiedBy)
	overlay(&rules.System.ModifiedOn, fr.System.ModifiedOn)
	return rules, nil
}

// LoadFile reads a YAML rules overlay from the given path.
func LoadFile(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
