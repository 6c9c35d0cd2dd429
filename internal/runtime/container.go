package runtime

import (
	"context"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cruciblehq/cruxdeb/internal/stage"
)

// Labels set on every container the runtime creates.
const (
	LabelManaged = "org.cruciblehq.cruxdeb.managed" // Always "true".
	LabelImage   = "org.cruciblehq.cruxdeb.image"   // Image the container was started from.
)

var _ stage.Container = (*Container)(nil)

// A running stage container backed by containerd.
type Container struct {
	client      *containerd.Client // Containerd client for managing the container.
	id          string             // Containerd container ID.
	image       string             // Image as the recipe named it.
	platform    string             // OCI platform (e.g., "linux/amd64").
	snapshotter string             // Snapshotter holding the container's root filesystem.
}

func (c *Container) ID() string {
	return c.id
}

// Removes the container and its resources.
//
// The task is killed and the container is removed from containerd along
// with its snapshot. Failures are logged. After destruction the handle is
// invalid.
func (c *Container) Destroy(ctx context.Context) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Warn("failed to load container for destruction", "id", c.id, "error", err)
		}
		return
	}

	if err := purge(ctx, ctr); err != nil {
		slog.Warn("failed to destroy container", "id", c.id, "error", err)
		return
	}
	slog.Debug("container destroyed", "id", c.id)
}

// Kills the container's task, if any, and deletes the container with its
// snapshot. Resources that are already gone are not an error.
func purge(ctx context.Context, ctr containerd.Container) error {
	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			return err
		}
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// Creates the containerd container. Stages get host networking and the
// host's resolver configuration so sources and packages can be fetched.
func (c *Container) create(ctx context.Context, image containerd.Image) (containerd.Container, error) {
	return c.client.NewContainer(ctx, c.id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(c.snapshotter),
		containerd.WithNewSnapshot(c.id, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithContainerLabels(map[string]string{
			LabelManaged: "true",
			LabelImage:   c.image,
		}),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(c.platform),
			oci.WithImageConfig(image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithHostHostsFile,
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
}

// Starts the container's long-running task with no attached IO.
func (c *Container) startTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

// Removes a container left behind with this ID by an interrupted run.
func (c *Container) removeStale(ctx context.Context) {
	existing, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return
	}
	slog.Debug("removing stale container", "id", c.id)
	if err := purge(ctx, existing); err != nil {
		slog.Warn("failed to remove stale container", "id", c.id, "error", err)
	}
}
