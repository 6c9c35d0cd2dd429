package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cruciblehq/cruxdeb/internal/build"
	"github.com/cruciblehq/cruxdeb/internal/compress"
	"github.com/cruciblehq/cruxdeb/internal/paths"
	"github.com/cruciblehq/cruxdeb/internal/recipe"
	"github.com/cruciblehq/cruxdeb/internal/snapshot"
	"github.com/cruciblehq/cruxdeb/internal/source"
	"github.com/cruciblehq/cruxdeb/internal/stage"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Configuration keys.
const (
	KeyContainerdAddress   = "containerd-address"
	KeyContainerdNamespace = "containerd-namespace"
	KeySnapshotter         = "snapshotter"
	KeyStageTimeout        = "stage-timeout"
	KeyExclude             = "exclude"
	KeyCompression         = "compression"
	KeyValidatorInstall    = "validator-install"
	KeyKeepFailedArtifact  = "keep-failed-artifact"
	KeyMetricsAddress      = "metrics-address"
	KeyCacheDir            = "cache-dir"
)

const envPrefix = "CRUXDEB"

// Operator configuration, validated.
type Settings struct {
	ContainerdAddress   string
	ContainerdNamespace string
	Snapshotter         string
	StageTimeout        time.Duration
	Exclusions          snapshot.Exclusions // Defaults plus the configured extra paths.
	Compression         compress.Format
	ValidatorInstall    []string // Install command; the package path is appended when run.
	KeepFailedArtifact  bool
	MetricsAddress      string
	CacheDir            string
	ConfigFile          string // Config file that was read, or "".
}

func defaults(v *viper.Viper) {
	v.SetDefault(KeyContainerdAddress, "/run/containerd/containerd.sock")
	v.SetDefault(KeyContainerdNamespace, "cruxdeb")
	v.SetDefault(KeySnapshotter, "overlayfs")
	v.SetDefault(KeyStageTimeout, "1h")
	v.SetDefault(KeyExclude, []string{})
	v.SetDefault(KeyCompression, string(compress.Xz))
	v.SetDefault(KeyValidatorInstall, "apt-get install -y --no-install-recommends")
	v.SetDefault(KeyKeepFailedArtifact, true)
	v.SetDefault(KeyMetricsAddress, "")
	v.SetDefault(KeyCacheDir, paths.Downloads())
}

// Loads settings.
//
// file names a config file that must exist. When empty, config.yaml is
// looked up in the user config directory and may be absent. Overrides are
// applied last; keys must be one of the Key constants.
func Load(file string, overrides map[string]any) (*Settings, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(paths.Config())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	s, err := decode(v)
	if err != nil {
		return nil, err
	}

	slog.Debug("settings loaded",
		"config", s.ConfigFile,
		"containerd", s.ContainerdAddress,
		"namespace", s.ContainerdNamespace,
		"timeout", s.StageTimeout,
		"compression", s.Compression,
	)
	return s, nil
}

// Reads and validates every key. All problems are reported together.
func decode(v *viper.Viper) (*Settings, error) {
	var problems []string
	bad := func(key string, err error) {
		problems = append(problems, fmt.Sprintf("%s: %v", key, err))
	}

	s := &Settings{
		ContainerdAddress:   strings.TrimSpace(v.GetString(KeyContainerdAddress)),
		ContainerdNamespace: strings.TrimSpace(v.GetString(KeyContainerdNamespace)),
		Snapshotter:         strings.TrimSpace(v.GetString(KeySnapshotter)),
		KeepFailedArtifact:  v.GetBool(KeyKeepFailedArtifact),
		MetricsAddress:      strings.TrimSpace(v.GetString(KeyMetricsAddress)),
		CacheDir:            v.GetString(KeyCacheDir),
		ConfigFile:          v.ConfigFileUsed(),
	}

	for _, k := range []string{KeyContainerdAddress, KeyContainerdNamespace, KeySnapshotter} {
		if v.GetString(k) == "" {
			bad(k, errors.New("must not be empty"))
		}
	}

	timeout, err := time.ParseDuration(v.GetString(KeyStageTimeout))
	switch {
	case err != nil:
		bad(KeyStageTimeout, err)
	case timeout < 0:
		bad(KeyStageTimeout, errors.New("must not be negative"))
	}
	s.StageTimeout = timeout

	extra, err := snapshot.NewExclusions(v.GetStringSlice(KeyExclude))
	if err != nil {
		bad(KeyExclude, err)
	}
	s.Exclusions = append(append(snapshot.Exclusions{}, snapshot.DefaultExclusions...), extra...)

	if s.Compression, err = compress.Parse(v.GetString(KeyCompression)); err != nil {
		bad(KeyCompression, err)
	}

	if install, err := stage.ParseCommand(v.GetString(KeyValidatorInstall)); err != nil {
		bad(KeyValidatorInstall, err)
	} else {
		s.ValidatorInstall = install.Args
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w:\n\t%s", ErrInvalidSettings, strings.Join(problems, "\n\t"))
	}
	return s, nil
}

// Returns options for building r into outputDir under these settings.
func (s *Settings) BuildOptions(r *recipe.Recipe, outputDir string) build.Options {
	return build.Options{
		Recipe:             r,
		OutputDir:          outputDir,
		StageTimeout:       s.StageTimeout,
		Exclusions:         s.Exclusions,
		Compression:        s.Compression,
		ValidatorInstall:   s.ValidatorInstall,
		KeepFailedArtifact: s.KeepFailedArtifact,
		Source:             source.Options{CacheDir: s.CacheDir},
	}
}
