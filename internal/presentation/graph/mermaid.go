package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// GraphOverlay contains session state to visualize on the graph.
type GraphOverlay struct {
	// Stack lists the workflows of the active frames, bottom first.
	Stack []string
	// Current is the workflow of the top frame.
	Current string
}

// GenerateMermaid produces a Mermaid flowchart of workflow definitions.
// It applies semantic styling:
// - Workflow: ([Stadium])
// - Field: [/Parallelogram/]
// - Final action: [[Subroutine]]
// Entity requirements backed by a sub-workflow are drawn as dotted edges
// labelled with the entity name.
func GenerateMermaid(defs []domain.WorkflowDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, def := range defs {
		safeID := sanitizeMermaidID(def.ID)
		label := def.ID
		if def.Goal != "" {
			label = fmt.Sprintf("%s <br/> %s", def.ID, escapeLabel(def.Goal))
		}
		fmt.Fprintf(&sb, "    %s([\"%s\"])\n", safeID, label)

		for _, f := range def.Fields {
			fieldID := safeID + "__" + sanitizeMermaidID(f.Name)
			name := f.Name
			if !f.Required {
				name += "?"
			}
			fmt.Fprintf(&sb, "    %s[/\"%s\"/]\n", fieldID, name)
			fmt.Fprintf(&sb, "    %s --- %s\n", safeID, fieldID)
		}

		for _, req := range def.Entities {
			if req.SubWorkflow == "" {
				continue
			}
			fmt.Fprintf(&sb, "    %s -. \"%s\" .-> %s\n", safeID, escapeLabel(req.Name), sanitizeMermaidID(req.SubWorkflow))
		}

		if def.FinalAction != "" {
			actionID := safeID + "__action"
			fmt.Fprintf(&sb, "    %s[[\"%s\"]]\n", actionID, def.FinalAction)
			fmt.Fprintf(&sb, "    %s ==> %s\n", safeID, actionID)
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef stacked fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.Stack {
			safeID := sanitizeMermaidID(id)
			if safeID == "" || seen[safeID] || id == overlay.Current {
				continue
			}
			seen[safeID] = true
			fmt.Fprintf(&sb, "    class %s stacked;\n", safeID)
		}

		if overlay.Current != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.Current))
		}
	}

	return sb.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
