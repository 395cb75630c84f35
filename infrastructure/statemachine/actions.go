package statemachine

import (
	"github.com/felixgeelhaar/statekit"
)

// recordEntry appends the state the event leads into to the path.
// In statekit, actions receive a pointer to the context. Since our context
// is *Context, actions receive **Context.
func recordEntry(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}

	c := *ctx
	c.Path = append(c.Path, phaseForEvent(event.Type))
}
