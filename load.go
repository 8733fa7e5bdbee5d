package blockfs

import "errors"

// FileRecord describes one file of a bulk load.
type FileRecord struct {
	Path      string
	Size      int64
	Timestamp string
}

// LoadDirectories adds one directory per path, in order. Failures do not
// stop the load; they are joined into the returned error.
func (t *Tree) LoadDirectories(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := t.AddDirectory(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadFiles adds one file per record, in order, skipping empty files.
// Failures do not stop the load; they are joined into the returned error.
func (t *Tree) LoadFiles(records []FileRecord) error {
	var errs []error
	for _, r := range records {
		if r.Size == 0 {
			continue
		}
		if err := t.AddFile(r.Path, r.Size, r.Timestamp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
