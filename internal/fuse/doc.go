/*
Package fuse implements the FUSE Operation Layer: the read-only virtual
filesystem a TransFS mount actually exposes to the kernel.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│              User Applications               │
	│         (frontends, emulators, ls, cp)       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Kernel VFS Layer                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           internal/fuse (this package)        │
	│  ┌─────────────────────────────────────────┐  │
	│  │  Node: one inode type for every kind    │  │
	│  │  (root / client / system / resolved)    │  │
	│  └─────────────────────────────────────────┘  │
	└─────────────────────────────────────────────┘
	                      │
	┌──────────────┬──────────────┬────────────────┐
	│  mapresolve  │    locate    │    listing      │
	│ (§4.3 rules) │  (existence) │  (ordering)     │
	└──────────────┴──────────────┴────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        archive (Archive Index, §4.2)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│     filestore/Native/{local_base_path}/       │
	└─────────────────────────────────────────────┘

A Node never re-derives classification: the Map Resolver already decided
whether a path is a real file, a real directory, a synthesized dynamic
folder, or something inside an archive, and the Source Locator already
turned that decision into a definite existence answer before the Node is
constructed. Lookup, Getattr and Readdir only read that state back.

# Read-only mount

Every write-family operation (create, mkdir, unlink, rmdir, rename,
setattr, symlink) rejects with EROFS unconditionally, regardless of which
kind of node it targets. There is no partial-write mode: the entire
mounted tree is a presentation of archives and real files that TransFS
itself never modifies.

# Open-archive-member handle states

Opening a real file returns a handle wrapping its OS descriptor directly.
Opening an archive member goes through a small state machine:

	NEW -> INDEXED -> HANDLE{seekable|extracted} -> GONE

The archive is indexed once (or its cached snapshot reused) via the
Archive Index's single-flight Open. A member stored uncompressed serves
reads directly against the archive file's own descriptor at a fixed byte
offset (the "seekable" branch); a deflated member is extracted to an
unlinked temp file first, since flate does not support true seeking.
Either branch collapses to GONE once the returned handle closes.

# Inode numbers

A real file or directory reuses the host filesystem's own inode number.
Every other kind of entry — a synthesized dynamic folder, an archive
member, an archive presented as a directory — gets a stable 64-bit id
computed by hashing its fully-qualified virtual path, with a reverse map
resolving the rare collision by linear probing.

# Concurrency

FUSE dispatches concurrently across unrelated inodes with one worker per
kernel request. This package holds no lock across operations; every
shared structure it reads through (Map Resolver, Source Locator, Listing
Engine, Archive Index, Listing Cache) is already safe for concurrent use
on its own.
*/
package fuse
