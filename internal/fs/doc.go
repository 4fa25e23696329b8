// Package fs is the file system seam under FileMemory and LocalStore.
//
// LocalFS goes straight to the os package. FaultyFS wraps another
// FileSystem and fails matching files on demand, which is how the tests
// provoke torn memory writes and failed blob syncs:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("stable.mem", fs.Fault{FailAfterBytes: 1024})
//	mem, _ := memory.OpenFile(path, memory.WithFileSystem(ffs))
//
// Calls take no context; positioned IO on a local file cannot be
// interrupted anyway.
package fs
