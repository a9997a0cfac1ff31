// Package assembler concatenates a completed download's part files
// into the final output file.
package assembler

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mkoru/multifetch/internal/registry"
	"github.com/mkoru/multifetch/internal/storage"
	"github.com/mkoru/multifetch/internal/store"
)

// ErrAssemblyFailed wraps any I/O failure during assembly, or a part
// file whose size does not match its assigned chunk range.
var ErrAssemblyFailed = errors.New("assembler: failed to assemble file")

// Assemble concatenates tempDir/part_0..part_{N-1} into finalPath in
// index order, sequentially, with no interleaving. It validates every
// part file's size against its chunk's assigned range before copying
// any bytes, then removes tempDir on success. On failure tempDir is
// left in place for inspection.
func Assemble(e *registry.Entry) error {
	snapshot := e.Snapshot()

	for _, c := range snapshot.Chunks {
		partPath := store.PartFilePath(snapshot.TempDir, c.ID)
		size, err := storage.FileSize(partPath)
		if err != nil {
			return fmt.Errorf("%w: part %d missing: %v", ErrAssemblyFailed, c.ID, err)
		}
		if size != c.Size() {
			return fmt.Errorf("%w: part %d size %d, want %d", ErrAssemblyFailed, c.ID, size, c.Size())
		}
	}

	if len(snapshot.Chunks) == 1 {
		// A single part is already the whole file in order; copy it to
		// finalPath with CopyFile instead of going through a FileWriter.
		partPath := store.PartFilePath(snapshot.TempDir, snapshot.Chunks[0].ID)
		if err := storage.CopyFile(partPath, snapshot.FinalPath); err != nil {
			return fmt.Errorf("%w: %v", ErrAssemblyFailed, err)
		}
	} else {
		out, err := storage.NewFileWriter(snapshot.FinalPath)
		if err != nil {
			return fmt.Errorf("%w: creating final file: %v", ErrAssemblyFailed, err)
		}

		for _, c := range snapshot.Chunks {
			if err := copyPart(out, store.PartFilePath(snapshot.TempDir, c.ID)); err != nil {
				out.Close()
				return fmt.Errorf("%w: copying part %d: %v", ErrAssemblyFailed, c.ID, err)
			}
		}

		if err := out.Sync(); err != nil {
			out.Close()
			return fmt.Errorf("%w: syncing final file: %v", ErrAssemblyFailed, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("%w: closing final file: %v", ErrAssemblyFailed, err)
		}
	}

	if err := os.RemoveAll(snapshot.TempDir); err != nil {
		return fmt.Errorf("%w: removing temp directory: %v", ErrAssemblyFailed, err)
	}

	e.WithLock(func(e *registry.Entry) {
		e.TempDir = ""
	})

	return nil
}

func copyPart(out *storage.FileWriter, partPath string) error {
	in, err := os.Open(partPath)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = io.Copy(out, in)
	return err
}
