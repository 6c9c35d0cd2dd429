// Package settings loads operator configuration.
//
// Values come from, in increasing precedence: built-in defaults, the
// config file ($XDG_CONFIG_HOME/cruxdeb/config.yaml unless another file is
// named), CRUXDEB_* environment variables, and explicit overrides from the
// command line. Keys use dashes; the matching environment variable uses
// underscores, so stage-timeout is read from CRUXDEB_STAGE_TIMEOUT.
//
//	containerd-address    containerd socket
//	containerd-namespace  namespace for images and containers
//	snapshotter           containerd snapshotter
//	stage-timeout         limit per stage, e.g. "45m"; 0 disables it
//	exclude               extra paths left out of the filesystem delta
//	compression           gzip, xz, zstd or none
//	validator-install     command that installs the package for validation
//	keep-failed-artifact  keep the .deb when validation fails
//	metrics-address       listen address for the metrics endpoint
//	cache-dir             where source tarballs are downloaded
package settings
