package staging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
)

// Recover scans the staging directory and restores Engine's in-memory
// view of every file left behind by a prior run (including one that
// crashed mid-write). Rotated and Claimed files are reset to Rotated,
// since Claimed is ambiguous after a crash and safe to redo: the
// conversion engine's artifact ulid makes the eventual upload
// idempotent. Open files are replayed block by block; the first bad
// checksum truncates the file at the last good block boundary and it
// is reclassified as Rotated.
func (e *Engine) Recover() error {
	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil {
		return apperror.Wrap(apperror.KindFatal, "read staging directory", err)
	}

	logger := log.WithComponent("staging")
	var totalBytes int64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, state, ok := classifyFilename(entry.Name())
		if !ok {
			logger.Warn().Str("file", entry.Name()).Msg("ignoring unrecognized file in staging directory")
			continue
		}

		path := filepath.Join(e.cfg.Dir, entry.Name())

		switch state {
		case StateOpen:
			sf, err := e.recoverOpenFile(path, name)
			if err != nil {
				logger.Error().Err(err).Str("file", entry.Name()).Msg("failed to recover open staging file")
				continue
			}
			totalBytes += sf.Size()
			if sf.State() == StateOpen {
				e.mu.Lock()
				e.open[groupKeyOf(sf.name)] = sf
				e.mu.Unlock()
			} else {
				e.mu.Lock()
				e.rotated[sf.name.Stream] = append(e.rotated[sf.name.Stream], sf)
				e.mu.Unlock()
			}

		case StateRotated, StateClaimed:
			sf, err := e.resetToRotated(path, name, state)
			if err != nil {
				logger.Error().Err(err).Str("file", entry.Name()).Msg("failed to reset staging file to rotated")
				continue
			}
			totalBytes += sf.Size()
			e.mu.Lock()
			e.rotated[sf.name.Stream] = append(e.rotated[sf.name.Stream], sf)
			e.mu.Unlock()

		case StateTombstoned:
			// Tombstoned files are pending async delete; a crash before
			// that delete ran just means we delete it again now.
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to remove tombstoned staging file on recovery")
			}
		}
	}

	e.bytesInUse = totalBytes
	logger.Info().Int64("bytes", totalBytes).Msg("staging recovery complete")
	return nil
}

func groupKeyOf(n Name) groupKey {
	return groupKey{
		stream:      n.Stream,
		minute:      n.Minute,
		customParts: joinParts(n.CustomParts),
		fingerprint: n.Fingerprint,
	}
}

// recoverOpenFile replays an Open file's blocks. If every block is
// well-formed and the file's actual size matches what was replayed,
// it remains Open and is handed back to the engine for further
// appends. Otherwise it is truncated to the last good block and
// transitioned to Rotated, since an engine restart always opens a
// fresh file for new writes in that group.
func (e *Engine) recoverOpenFile(path string, name Name) (*StagingFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFatal, "open staging file for recovery", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperror.Wrap(apperror.KindFatal, "stat staging file", err)
	}

	validUpTo, err := blockReader(f, func([]byte) error { return nil })
	if err != nil {
		f.Close()
		return nil, err
	}

	clean := validUpTo == info.Size()
	if !clean {
		if err := f.Truncate(validUpTo); err != nil {
			f.Close()
			return nil, apperror.Wrap(apperror.KindFatal, "truncate torn staging file", err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, apperror.Wrap(apperror.KindFatal, "seek staging file to end", err)
	}

	sf := &StagingFile{dir: e.cfg.Dir, name: name, path: path, f: f, size: validUpTo, created: info.ModTime()}
	if clean {
		sf.state = StateOpen
		return sf, nil
	}

	sf.state = StateOpen // rotate() requires Open as the precondition
	if err := sf.rotate(); err != nil {
		f.Close()
		return nil, err
	}
	return sf, nil
}

// resetToRotated reopens a Rotated or Claimed file found on disk and,
// if it was Claimed, renames it back to the plain Rotated suffix so a
// fresh conversion run can claim it again.
func (e *Engine) resetToRotated(path string, name Name, state State) (*StagingFile, error) {
	targetPath := path
	if state == StateClaimed {
		targetPath = rotatedPathFor(e.cfg.Dir, name)
		if err := os.Rename(path, targetPath); err != nil {
			return nil, apperror.Wrap(apperror.KindFatal, "rename claimed file back to rotated", err)
		}
	}

	f, err := os.OpenFile(targetPath, os.O_RDWR, 0644)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFatal, "reopen rotated staging file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperror.Wrap(apperror.KindFatal, "stat rotated staging file", err)
	}

	return &StagingFile{
		dir:     e.cfg.Dir,
		name:    name,
		path:    targetPath,
		f:       f,
		state:   StateRotated,
		size:    info.Size(),
		created: info.ModTime(),
	}, nil
}

func rotatedPathFor(dir string, name Name) string {
	return filepath.Join(dir, name.String()) + suffixRotated
}
