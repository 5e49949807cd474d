// Package templates reads and writes workflow definitions as YAML so that
// pipelines can be seeded, versioned in git and moved between environments.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"admissions-workflow/backend/pkg/models"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the current template schema version
const SchemaVersion = 1

//go:embed builtin/*.yaml
var builtin embed.FS

// Template is the YAML form of a workflow. Stages are addressed by Key
// instead of database ids.
type Template struct {
	SchemaVersion   int          `yaml:"schema_version"`
	Name            string       `yaml:"name"`
	Description     string       `yaml:"description,omitempty"`
	ApplicationType string       `yaml:"application_type"`
	Entry           string       `yaml:"entry,omitempty"` // stage key
	Stages          []Stage      `yaml:"stages"`
	Transitions     []Transition `yaml:"transitions,omitempty"`
}

// Stage is one stage of a Template.
type Stage struct {
	Key               string         `yaml:"key"`
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description,omitempty"`
	Sequence          int            `yaml:"sequence"`
	RequiredDocuments []string       `yaml:"required_documents,omitempty"`
	RequiredActions   []string       `yaml:"required_actions,omitempty"`
	Notifications     []Notification `yaml:"notifications,omitempty"`
	AssignedRole      string         `yaml:"assigned_role,omitempty"`
	Position          *Position      `yaml:"position,omitempty"`
}

type Notification struct {
	Event         string   `yaml:"event"`
	RecipientRole string   `yaml:"recipient_role,omitempty"`
	TemplateID    string   `yaml:"template_id,omitempty"`
	Channels      []string `yaml:"channels,omitempty"`
}

type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Transition is one edge of a Template. From and To are stage keys.
type Transition struct {
	From        string      `yaml:"from"`
	To          string      `yaml:"to"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Conditions  []Condition `yaml:"conditions,omitempty"`
	Permissions []string    `yaml:"permissions,omitempty"`
	Automatic   bool        `yaml:"automatic,omitempty"`
	Priority    int         `yaml:"priority,omitempty"`
}

// Condition holds its operand as a plain YAML scalar or sequence.
type Condition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value,omitempty"`
}

// Validate checks the template is self-consistent. Deeper checks happen
// when the resulting spec is written.
func (t *Template) Validate() error {
	if t.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %d", t.SchemaVersion)
	}
	if t.Name == "" {
		return errors.New("template name is required")
	}
	if !models.ApplicationType(t.ApplicationType).Valid() {
		return fmt.Errorf("unknown application_type %q", t.ApplicationType)
	}
	if len(t.Stages) == 0 {
		return errors.New("template must have at least one stage")
	}

	keys := make(map[string]bool, len(t.Stages))
	for i, s := range t.Stages {
		if s.Key == "" {
			return fmt.Errorf("stage %d: key is required", i)
		}
		if keys[s.Key] {
			return fmt.Errorf("stage %d: duplicate key %q", i, s.Key)
		}
		keys[s.Key] = true
	}
	if t.Entry != "" && !keys[t.Entry] {
		return fmt.Errorf("entry %q is not a stage key", t.Entry)
	}
	for i, tr := range t.Transitions {
		if !keys[tr.From] {
			return fmt.Errorf("transition %d: unknown from stage %q", i, tr.From)
		}
		if !keys[tr.To] {
			return fmt.Errorf("transition %d: unknown to stage %q", i, tr.To)
		}
	}
	return nil
}

// Spec converts the template into a create spec. Stage keys become refs.
func (t *Template) Spec() (models.WorkflowSpec, error) {
	spec := models.WorkflowSpec{
		Name:            t.Name,
		Description:     t.Description,
		ApplicationType: models.ApplicationType(t.ApplicationType),
		EntryStage:      t.Entry,
		Stages:          make([]models.StageSpec, 0, len(t.Stages)),
		Transitions:     make([]models.TransitionSpec, 0, len(t.Transitions)),
	}
	for _, s := range t.Stages {
		ss := models.StageSpec{
			Ref:               s.Key,
			Name:              s.Name,
			Description:       s.Description,
			Sequence:          s.Sequence,
			RequiredDocuments: s.RequiredDocuments,
			RequiredActions:   s.RequiredActions,
			AssignedRole:      s.AssignedRole,
		}
		for _, n := range s.Notifications {
			ss.NotificationTriggers = append(ss.NotificationTriggers, models.NotificationTrigger(n))
		}
		if s.Position != nil {
			ss.Position = models.Position(*s.Position)
		}
		spec.Stages = append(spec.Stages, ss)
	}
	for i, tr := range t.Transitions {
		ts := models.TransitionSpec{
			Source:              tr.From,
			Target:              tr.To,
			Name:                tr.Name,
			Description:         tr.Description,
			RequiredPermissions: tr.Permissions,
			IsAutomatic:         tr.Automatic,
			Priority:            tr.Priority,
		}
		for j, c := range tr.Conditions {
			v, err := models.ValueOf(c.Value)
			if err != nil {
				return models.WorkflowSpec{}, fmt.Errorf("transition %d condition %d: %w", i, j, err)
			}
			ts.Conditions = append(ts.Conditions, models.Condition{
				Field: c.Field, Operator: models.Operator(c.Operator), Value: v,
			})
		}
		spec.Transitions = append(spec.Transitions, ts)
	}
	return spec, nil
}

var nonKey = regexp.MustCompile(`[^a-z0-9]+`)

// FromGraph exports a stored workflow. Stage keys are derived from stage
// names and made unique with a numeric suffix.
func FromGraph(g *models.WorkflowGraph) *Template {
	t := &Template{
		SchemaVersion:   SchemaVersion,
		Name:            g.Name,
		Description:     g.Description,
		ApplicationType: string(g.ApplicationType),
	}

	keyOf := make(map[string]string, len(g.Stages))
	used := make(map[string]int, len(g.Stages))
	for _, s := range g.Stages {
		key := strings.Trim(nonKey.ReplaceAllString(strings.ToLower(s.Name), "_"), "_")
		if key == "" {
			key = "stage"
		}
		if n := used[key]; n > 0 {
			used[key] = n + 1
			key = fmt.Sprintf("%s_%d", key, n+1)
		} else {
			used[key] = 1
		}
		keyOf[s.ID] = key

		st := Stage{
			Key:               key,
			Name:              s.Name,
			Description:       s.Description,
			Sequence:          s.Sequence,
			RequiredDocuments: s.RequiredDocuments,
			RequiredActions:   s.RequiredActions,
			AssignedRole:      s.AssignedRole,
		}
		for _, n := range s.NotificationTriggers {
			st.Notifications = append(st.Notifications, Notification(n))
		}
		if s.Position != (models.Position{}) {
			p := Position(s.Position)
			st.Position = &p
		}
		t.Stages = append(t.Stages, st)
	}
	if g.EntryStageID != "" {
		t.Entry = keyOf[g.EntryStageID]
	}

	for _, tr := range g.Transitions {
		from, okFrom := keyOf[tr.SourceStageID]
		to, okTo := keyOf[tr.TargetStageID]
		if !okFrom || !okTo {
			continue
		}
		out := Transition{
			From:        from,
			To:          to,
			Name:        tr.Name,
			Description: tr.Description,
			Permissions: tr.RequiredPermissions,
			Automatic:   tr.IsAutomatic,
			Priority:    tr.Priority,
		}
		for _, c := range tr.Conditions {
			out.Conditions = append(out.Conditions, Condition{
				Field: c.Field, Operator: string(c.Operator), Value: c.Value.Interface(),
			})
		}
		t.Transitions = append(t.Transitions, out)
	}
	return t
}

// Unmarshal decodes and validates a template from YAML bytes
func Unmarshal(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("template validation failed: %w", err)
	}
	return &t, nil
}

// Marshal encodes a template to YAML bytes
func Marshal(t *Template) ([]byte, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// LoadDir reads every .yaml and .yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Template, error) {
	return load(os.DirFS(dir))
}

// Builtin returns the templates compiled into the binary.
func Builtin() ([]*Template, error) {
	sub, err := fs.Sub(builtin, "builtin")
	if err != nil {
		return nil, err
	}
	return load(sub)
}

func load(fsys fs.FS) ([]*Template, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*Template, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		t, err := Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, t)
	}
	return out, nil
}
