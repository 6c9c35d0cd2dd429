package runtime

import (
	"context"
	_ "crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"strings"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/cruxdeb/internal/stage"
)

const (

	// Snapshotter used when none is configured.
	DefaultSnapshotter = "overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Debian architecture names by Go architecture.
var debianArch = map[string]string{
	"amd64":    "amd64",
	"arm64":    "arm64",
	"arm":      "armhf",
	"386":      "i386",
	"ppc64le":  "ppc64el",
	"s390x":    "s390x",
	"riscv64":  "riscv64",
	"mips64le": "mips64el",
	"loong64":  "loong64",
}

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter for container filesystems.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. An
// empty snapshotter selects [DefaultSnapshotter]. The runtime must be
// closed when no longer needed.
func New(address, namespace, snapshotter string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if snapshotter == "" {
		snapshotter = DefaultSnapshotter
	}
	return &Runtime{client: client, snapshotter: snapshotter}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Removes every container this runtime created that is still present.
//
// Builds destroy their own containers; anything found here was left by a
// process that died mid-build. Returns the number removed.
func (rt *Runtime) Prune(ctx context.Context) (int, error) {
	ctrs, err := rt.client.Containers(ctx, fmt.Sprintf("labels.%q==true", LabelManaged))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	n := 0
	for _, ctr := range ctrs {
		if err := purge(ctx, ctr); err != nil {
			slog.Warn("failed to prune container", "id", ctr.ID(), "error", err)
			continue
		}
		slog.Info("pruned leftover container", "id", ctr.ID())
		n++
	}
	return n, nil
}

// Makes an image available and starts a container from it.
//
// An image ending in ".tar" is a local OCI archive and is imported under a
// tag derived from its path. Anything else is an image reference, pulled
// when it is not already in the image store. The layers for the host
// platform are unpacked into the snapshotter, any stale container with the
// same ID is removed, and a long-running task (sleep infinity) is started
// so that subsequent Exec calls have a running process to attach to.
func (rt *Runtime) StartContainer(ctx context.Context, image, id string) (*Container, error) {
	platform := defaultPlatform()

	tag, err := rt.ensureImage(ctx, image, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRuntime, image, err)
	}

	if err := rt.unpackImage(ctx, tag, platform); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	c := &Container{
		client:      rt.client,
		id:          id,
		image:       image,
		platform:    platform,
		snapshotter: rt.snapshotter,
	}
	c.removeStale(ctx)

	img, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	ctr, err := c.create(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(context.WithoutCancel(ctx), containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", tag)
	return c, nil
}

// Like [Runtime.StartContainer], returning the container as a
// [stage.Container].
func (rt *Runtime) Start(ctx context.Context, image, id string) (stage.Container, error) {
	c, err := rt.StartContainer(ctx, image, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Returns the image store name for image, importing or pulling it first
// when needed.
func (rt *Runtime) ensureImage(ctx context.Context, image, platform string) (string, error) {
	if strings.HasSuffix(image, ".tar") {
		tag := imageTag(image)
		source, err := rt.importArchive(ctx, image)
		if err != nil {
			return "", err
		}
		return tag, rt.tagImage(ctx, source, tag)
	}

	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return "", err
	}
	ref := reference.TagNameOnly(named).String()

	if _, err := rt.client.ImageService().Get(ctx, ref); err == nil {
		return ref, nil
	} else if !errdefs.IsNotFound(err) {
		return "", err
	}

	p, err := platforms.Parse(platform)
	if err != nil {
		return "", err
	}

	slog.Info("pulling image", "ref", ref, "platform", platform)
	if _, err := rt.client.Pull(ctx, ref,
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
		containerd.WithPlatformMatcher(platforms.Only(p)),
	); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPull, err)
	}
	return ref, nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. Multi-platform archives
// are supported (single OCI index with per-platform manifests).
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	// One record per entry in index.json; platform selection happens later.
	if len(imported) == 0 {
		return images.Image{}, ErrEmptyArchive
	} else if len(imported) > 1 {
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Tags an imported image under a deterministic name.
//
// Updates the tag if it already exists. Removes the source record when
// its name differs from the tag to avoid duplicates.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Unpacks the image layers for the platform into the snapshotter, unless
// that already happened.
func (rt *Runtime) unpackImage(ctx context.Context, tag, platform string) error {
	img, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return err
	}

	if ok, err := img.IsUnpacked(ctx, rt.snapshotter); err == nil && ok {
		return nil
	}
	return img.Unpack(ctx, rt.snapshotter)
}

// Looks up a stored image and selects the manifest for the given platform.
func (rt *Runtime) resolveImage(ctx context.Context, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Image store name for an imported archive: the digest of its path, which
// is a valid reference whatever characters the path contains.
func imageTag(path string) string {
	return "import/" + digest.FromString(path).Encoded() + ":latest"
}

// Returns the default OCI platform for the host architecture.
func defaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}

// Debian name of the host architecture, or "" when there is none.
func HostArchitecture() string {
	return debianArch[goruntime.GOARCH]
}
