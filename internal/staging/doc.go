// Package staging holds uploaded files on local disk for the duration of a
// single request.
//
// Files are written under uuid names so that concurrent uploads with the same
// original filename never collide. Callers own cleanup:
//
//	f, err := area.Stage(part, header.Filename, header.Header.Get("Content-Type"))
//	if err != nil {
//		return err
//	}
//	defer f.Remove()
package staging
