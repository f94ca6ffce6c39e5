// Package container reads and writes the tar containers that make up a
// package.
//
// A package is an outer, uncompressed tar holding
//
//	metadata.json      transfer metadata
//	metadata.json.sig  detached signature over metadata.json
//	data.encrypted     OpenPGP ciphertext of the inner container
//
// and the inner container, optionally gzip or zstd compressed, holds
//
//	checksum-manifest        one "<sha256> <path>" line per file
//	content/<relative-path>  the packaged files
//
// Entries are streamed in order; nothing is read ahead or buffered beyond
// what a caller asks for.
package container
