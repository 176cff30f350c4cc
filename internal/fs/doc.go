// Package fs abstracts the file operations of the local blob store so tests
// can inject I/O failures.
//
//   - [LocalFS]: production implementation on the os package
//   - [FaultyFS]: wrapper failing writes, syncs, closes or renames of
//     matching files
//
// Production code uses fs.Default:
//
//	f, err := fs.Default.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
//
// Tests wrap it:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("snap", fs.Fault{FailAfterBytes: 1024})
package fs
