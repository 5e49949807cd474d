// Package validator performs structural checks on a loaded workflow graph
// before it may be activated. Problems are returned as data, never as
// errors, so the editor can render them inline.
package validator

import (
	"fmt"
	"sort"

	"admissions-workflow/backend/pkg/models"
)

// Validate inspects g and reports errors and warnings. It does not mutate g.
func Validate(g *models.WorkflowGraph) *models.ValidationResult {
	r := &report{}

	if len(g.Stages) == 0 {
		r.warn(models.CodeEmptyWorkflow, models.EntityWorkflow, g.ID,
			"workflow has no stages")
		return r.result()
	}

	stages := make(map[string]*models.Stage, len(g.Stages))
	bySequence := make(map[int]*models.Stage, len(g.Stages))
	for _, s := range g.Stages {
		stages[s.ID] = s
		if other, dup := bySequence[s.Sequence]; dup {
			r.fail(models.CodeDuplicateSequence, models.EntityStage, s.ID,
				fmt.Sprintf("stage %q shares sequence %d with stage %q", s.Name, s.Sequence, other.Name))
			continue
		}
		bySequence[s.Sequence] = s
	}

	if g.EntryStageID != "" && stages[g.EntryStageID] == nil {
		r.fail(models.CodeInvalidEntryStage, models.EntityWorkflow, g.ID,
			fmt.Sprintf("entry stage %q is not a stage of this workflow", g.EntryStageID))
	}

	if len(g.Transitions) == 0 {
		r.fail(models.CodeMissingTransitions, models.EntityWorkflow, g.ID,
			fmt.Sprintf("workflow has %d stage(s) but no transitions", len(g.Stages)))
	}

	outgoing := make(map[string][]string)
	incoming := make(map[string]int)
	for _, t := range g.Transitions {
		foreign := false
		for _, end := range []string{t.SourceStageID, t.TargetStageID} {
			if stages[end] == nil {
				foreign = true
				r.fail(models.CodeForeignStageReference, models.EntityTransition, t.ID,
					fmt.Sprintf("transition %q references stage %q outside this workflow", t.Name, end))
			}
		}
		for _, c := range t.Conditions {
			if !c.Operator.Valid() {
				r.fail(models.CodeInvalidConditionOp, models.EntityTransition, t.ID,
					fmt.Sprintf("transition %q uses unknown operator %q on field %q", t.Name, c.Operator, c.Field))
			}
		}
		if foreign {
			continue
		}
		if t.SourceStageID == t.TargetStageID {
			r.warn(models.CodeSelfLoop, models.EntityTransition, t.ID,
				fmt.Sprintf("transition %q loops back to its own stage", t.Name))
		}
		outgoing[t.SourceStageID] = append(outgoing[t.SourceStageID], t.TargetStageID)
		incoming[t.TargetStageID]++
	}

	ordered := sortedStages(g.Stages)

	if len(g.Transitions) > 0 {
		for _, s := range ordered {
			if len(outgoing[s.ID]) == 0 && incoming[s.ID] == 0 {
				r.fail(models.CodeDisconnectedStage, models.EntityStage, s.ID,
					fmt.Sprintf("stage %q has no incoming or outgoing transitions", s.Name))
			}
		}
	}

	entry := g.EntryStage()
	if entry == nil {
		entry = ordered[0]
	}
	reached := reachable(entry.ID, outgoing)
	for _, s := range ordered {
		if !reached[s.ID] {
			r.warn(models.CodeUnreachableStage, models.EntityStage, s.ID,
				fmt.Sprintf("stage %q cannot be reached from entry stage %q", s.Name, entry.Name))
		}
	}

	terminal := false
	for _, s := range ordered {
		if len(outgoing[s.ID]) == 0 {
			terminal = true
			break
		}
	}
	if !terminal {
		r.warn(models.CodeNoTerminalStage, models.EntityWorkflow, g.ID,
			"every stage has an outgoing transition; applications can never finish")
	}

	return r.result()
}

// reachable walks outgoing edges breadth first from start.
func reachable(start string, outgoing map[string][]string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range outgoing[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func sortedStages(stages []*models.Stage) []*models.Stage {
	out := make([]*models.Stage, len(stages))
	copy(out, stages)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type report struct {
	errors   []models.ValidationIssue
	warnings []models.ValidationIssue
}

func (r *report) fail(code string, typ models.EntityType, id, msg string) {
	r.errors = append(r.errors, issue(code, typ, id, msg))
}

func (r *report) warn(code string, typ models.EntityType, id, msg string) {
	r.warnings = append(r.warnings, issue(code, typ, id, msg))
}

func (r *report) result() *models.ValidationResult {
	res := &models.ValidationResult{
		IsValid:  len(r.errors) == 0,
		Errors:   r.errors,
		Warnings: r.warnings,
	}
	if res.Errors == nil {
		res.Errors = []models.ValidationIssue{}
	}
	if res.Warnings == nil {
		res.Warnings = []models.ValidationIssue{}
	}
	return res
}

func issue(code string, typ models.EntityType, id, msg string) models.ValidationIssue {
	return models.ValidationIssue{
		Code:    code,
		Message: msg,
		Entity:  models.EntityRef{Type: typ, ID: id},
	}
}
