//go:build tools

package hack

// Add tools that hack scripts and go:generate directives depend on here, to ensure they are pinned.
import (
	_ "go.uber.org/mock/mockgen"
)
