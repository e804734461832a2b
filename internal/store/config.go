package store

import "codeberg.org/mutker/jolt/internal/errors"

const (
	defaultDirPerm = 0o755

	// RecentSamplesMax bounds one RecentSamples call.
	RecentSamplesMax = 10000
)

type Config struct {
	Path string
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Path == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	return nil
}
