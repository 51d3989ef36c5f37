// Package mmap provides read-only memory-mapped file access.
//
// Checkpoint artifacts are written once and then only read, so mapping
// them avoids copying file contents through kernel buffers when a
// restore walks large chunk blobs.
//
// Unix platforms use mmap(2); Windows uses
// CreateFileMapping/MapViewOfFile. A File is safe for concurrent reads;
// callers must ensure no goroutine touches Data after Close returns.
package mmap
