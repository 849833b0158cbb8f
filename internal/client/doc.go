// Package client is a relay peer: it dials the chat endpoint, joins under
// a name, sends text and files, and decodes everything the relay fans out.
// TransferTracker reassembles incoming files from their chunks.
package client
