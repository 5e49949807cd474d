package main

import (
	"bytes"
	"testing"

	"admissions-workflow/backend/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestPrintReport(t *testing.T) {
	g := &models.WorkflowGraph{
		Workflow: models.Workflow{ID: "wf-1", Name: "Graduate"},
		Stages:   []*models.Stage{{ID: "s-1", Name: "Interview"}},
	}

	t.Run("valid", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, g, &models.ValidationResult{IsValid: true})
		assert.Contains(t, buf.String(), "Graduate")
		assert.Contains(t, buf.String(), "valid")
		assert.NotContains(t, buf.String(), "Severity")
	})

	t.Run("issues", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, g, &models.ValidationResult{
			IsValid: false,
			Errors: []models.ValidationIssue{{
				Code: models.CodeDisconnectedStage, Message: "stage has no transitions",
				Entity: models.EntityRef{Type: models.EntityStage, ID: "s-1"},
			}},
			Warnings: []models.ValidationIssue{{
				Code: models.CodeNoTerminalStage, Message: "no terminal stage",
				Entity: models.EntityRef{Type: models.EntityWorkflow, ID: "wf-1"},
			}},
		})
		out := buf.String()
		assert.Contains(t, out, "Severity")
		assert.Contains(t, out, models.CodeDisconnectedStage)
		assert.Contains(t, out, "stage Interview")
		assert.Contains(t, out, "workflow wf-1")
		assert.Contains(t, out, "1 error(s), 1 warning(s)")
		assert.Contains(t, out, "invalid")
	})
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "migrate", "validate"} {
		cmd, _, err := root.Find([]string{name})
		if assert.NoError(t, err) {
			assert.Equal(t, name, cmd.Name())
		}
	}
}
