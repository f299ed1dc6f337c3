/*
Package types provides the shared data structures and interfaces used across
the TransFS resolver pipeline.

	FUSE op (path) ──► Path Parser ──► Map Resolver ──► Source Locator ──► Cache ──► Physical I/O
	                       │                 │
	                       └── Archive Index ◄──┘

DirEntry is the unit the Directory Listing Engine produces and the Listing
Cache stores; EntryKind tags which of RealFile/RealDir/SynthDir/ZipDir/
ZipMember a resolved path turned out to be, matching InodeEntry.kind from the
resolver design. ListingCache and MetricsCollector are the narrow
interfaces internal/cache and internal/metrics implement, kept here so
internal/fuse and internal/core can depend on the contract without
importing the concrete packages. No package in this repository implements
HealthChecker: pkg/health's Tracker and internal/health's Checker/Monitor
expose their own, differently shaped APIs.
*/
package types
