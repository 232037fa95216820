// Package log configures the process-wide zerolog logger and hands out
// tagged child loggers for the dimensions logship actually cuts its log
// lines by: which node, which pipeline stage, which stream, which
// artifact. Call sites reach for one of the With* constructors rather
// than logging through an untagged logger, so a line from a multi-node,
// multi-stream deployment can always be filtered back to the stream or
// artifact it came from.
package log
