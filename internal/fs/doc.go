// Package fs abstracts the filesystem so dataset scanning, sample loading and
// checkpoint writes can be exercised against injected faults.
//
//   - [OSFS]: the os-backed implementation, available as [Default]
//   - [FaultyFS]: wraps another FileSystem and fails opens, reads, writes,
//     syncs or closes of files matching a pattern
//
// Tests inject a FaultyFS to simulate an unreadable sample:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("cow_3/002.png", fs.Fault{FailOnRead: true})
//
// Filesystem calls take no context.Context. Local file operations are not
// interruptible at the syscall level; remote storage goes through
// [github.com/hupe1980/reid/blobstore], which does take a context.
package fs
