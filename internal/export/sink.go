package export

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Sink delivers a finished artifact and returns where it ended up
type Sink interface {
	Deliver(ctx context.Context, artifact *Artifact) (string, error)
}

// DirSink writes artifacts into a local directory
type DirSink struct {
	Dir string
}

// Deliver writes to a temp file next to the target and renames it, so a
// reader never sees a partial document
func (s DirSink) Deliver(ctx context.Context, artifact *Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", s.Dir)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+artifact.Filename+".*")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}

	_, err = tmp.Write(artifact.Data)
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return "", multierr.Append(errors.Wrap(err, "write artifact"), os.Remove(tmp.Name()))
	}

	target := filepath.Join(s.Dir, artifact.Filename)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", multierr.Append(errors.Wrap(err, "rename artifact"), os.Remove(tmp.Name()))
	}

	return target, nil
}
