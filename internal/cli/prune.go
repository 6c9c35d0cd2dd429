package cli

import (
	"context"
	"fmt"

	"github.com/cruciblehq/cruxdeb/internal/runtime"
)

// Represents the 'cruxdeb prune' command.
type PruneCmd struct{}

// Executes the prune command.
//
// Removes build containers left behind by a process that died mid-build.
// Must not be run while builds are in progress in the same namespace.
func (c *PruneCmd) Run(ctx context.Context) error {
	st, err := loadSettings(nil)
	if err != nil {
		return err
	}

	rt, err := runtime.New(st.ContainerdAddress, st.ContainerdNamespace, st.Snapshotter)
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.Prune(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d container(s)\n", n)
	return nil
}
