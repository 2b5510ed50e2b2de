package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/espalier/pkg/adapters/file"
	"github.com/aretw0/espalier/pkg/adapters/process"
)

// Validate loads the workflow definitions and checks that every final
// action has a process in the actions file. It returns the number of
// workflows checked.
func Validate(workflowsPath, actionsPath string, w io.Writer) (int, error) {
	workflows, err := file.LoadRegistry(workflowsPath)
	if err != nil {
		return 0, err
	}
	actions, err := process.LoadActions(actionsPath)
	if err != nil {
		return 0, err
	}

	var missing []string
	warned := make(map[string]bool)
	for _, id := range workflows.List() {
		def, err := workflows.Get(id)
		if err != nil {
			return 0, err
		}
		if _, ok := actions[def.FinalAction]; !ok {
			missing = append(missing, fmt.Sprintf("%s (final action of %s)", def.FinalAction, id))
		}
		for _, req := range def.Entities {
			if _, ok := actions[process.LookupPrefix+req.Name]; !ok && !warned[req.Name] {
				warned[req.Name] = true
				fmt.Fprintf(w, "warning: no %s%s process, %s lookups use the in-memory store\n", process.LookupPrefix, req.Name, req.Name)
			}
		}
	}
	if len(missing) > 0 {
		return 0, fmt.Errorf("unregistered actions: %s", strings.Join(missing, ", "))
	}
	return len(workflows.List()), nil
}
