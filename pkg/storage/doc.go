// Package storage places downloaded images in the output directory.
//
// A transfer writes into a hidden temp file named after the destination
// with a random suffix and ".part". Commit re-checks the destination under
// a per-path lock and renames the temp file into place, so a final file
// name only ever holds complete content. A destination that already holds a
// non-empty regular file is never overwritten; zero-length files are
// treated as missing.
//
//	manager, err := storage.NewManager(dir)
//	if skip, _ := manager.ShouldSkip(rec); skip {
//		return
//	}
//	pf, err := manager.Begin(rec)
//	if _, err := io.Copy(pf, body); err != nil {
//		pf.Discard()
//		return err
//	}
//	err = pf.Commit() // storage.ErrAlreadyExists if another writer won
package storage
