// Package transfer uploads sett packages to a remote directory with an
// atomic completion marker.
//
// Every upload creates a fresh envelope directory named after the upload
// time (<destination>/<YYYYMMDDThhmmss>). Each file is written as
// <name>.part, renamed to <name> once complete, and its remote size is
// compared to the local size. Only after every file checks out is the
// zero-byte done.txt written; receivers must treat an envelope without
// done.txt as incomplete. Uploads are never retried automatically.
//
// Two transports implement the protocol: SFTPTransport for remote hosts
// and LocalTransport for mounted shares and tests.
package transfer
