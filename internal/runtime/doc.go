// Package runtime manages stage containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon and makes images available:
// references are pulled from their registry when missing from the image
// store, and paths ending in ".tar" are imported as OCI archives under a
// deterministic tag. Layers are unpacked for the host platform and used to
// create containers with their own snapshot.
//
// Each [Container] wraps a running containerd task. Programs run inside it
// as additional execs, and files move in and out as tar streams. When the
// container is no longer needed it should be destroyed to release its
// snapshot and task resources.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "cruxdeb", "")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	ctr, err := rt.StartContainer(ctx, "debian:bookworm", "cruxdeb-build-1")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(context.WithoutCancel(ctx))
//
//	code, err := ctr.Exec(ctx, []string{"uname", "-m"}, nil, "", os.Stdout, os.Stderr)
//	if err != nil {
//	    return err
//	}
package runtime
