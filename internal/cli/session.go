package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/espalier/internal/presentation/graph"
	"github.com/aretw0/espalier/pkg/domain"
)

// ListSessions prints the stored session IDs.
func ListSessions(ctx context.Context, stack *Stack, w io.Writer) error {
	sessions, err := stack.Engine.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No active sessions found.")
		return nil
	}
	fmt.Fprintln(w, "Active Sessions:")
	for _, s := range sessions {
		fmt.Fprintln(w, "- "+s)
	}
	return nil
}

// InspectSession prints the snapshot of a session as JSON, or as a Mermaid
// graph of its workflows with the stack highlighted.
func InspectSession(ctx context.Context, stack *Stack, sessionID string, asGraph bool, w io.Writer) error {
	snap, err := stack.Engine.Inspect(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("error loading session '%s': %w", sessionID, err)
	}

	if asGraph {
		overlay := &graph.GraphOverlay{}
		for _, f := range snap.Frames {
			overlay.Stack = append(overlay.Stack, f.Workflow)
		}
		if top, ok := snap.Active(); ok {
			overlay.Current = top.Workflow
		}
		defs, err := definitions(stack)
		if err != nil {
			return err
		}
		fmt.Fprint(w, graph.GenerateMermaid(defs, overlay))
		return nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// RemoveSessions deletes every given session and reports each one.
func RemoveSessions(ctx context.Context, stack *Stack, ids []string, w io.Writer) error {
	var errs []error
	for _, id := range ids {
		if err := stack.Engine.Delete(ctx, id); err != nil {
			fmt.Fprintf(w, "Error removing '%s': %v\n", id, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "Removed session '%s'\n", id)
	}
	return errors.Join(errs...)
}

// PrintTrail prints the audit records of a session, one JSON object per line.
func PrintTrail(ctx context.Context, stack *Stack, sessionID string, w io.Writer) error {
	records, err := stack.Engine.Trail(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("error reading trail of '%s': %w", sessionID, err)
	}
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// PrintGraph prints a Mermaid graph of every registered workflow.
func PrintGraph(stack *Stack, w io.Writer) error {
	defs, err := definitions(stack)
	if err != nil {
		return err
	}
	fmt.Fprint(w, graph.GenerateMermaid(defs, nil))
	return nil
}

func definitions(stack *Stack) ([]domain.WorkflowDefinition, error) {
	ids := stack.Engine.Workflows()
	defs := make([]domain.WorkflowDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := stack.Engine.Definition(id)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
