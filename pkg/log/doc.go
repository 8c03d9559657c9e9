// Package log provides protocol event capture for the batch runtime.
//
// It is separate from operational logging (slog). A Logger receives one
// Event per frame, decoded request or reply, connection state change, or
// delivery error, and can write them to a CBOR event file for later
// inspection with the batch-log tool.
//
//	// Console, via slog at debug level
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Event file; a ".zst" suffix writes a zstd-compressed archive
//	fl, _ := log.NewFileLogger("/var/spool/batch/server.blog.zst")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
package log
