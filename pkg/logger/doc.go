// Package logger builds *slog.Logger values with functional options and
// exposes attribute helpers that keep key names consistent across the service.
//
// Context extractors registered with WithContextExtractors run on every
// record, which is how request ids end up in handler and store logs without
// being passed around explicitly.
//
//	log := logger.New(
//		logger.WithFormat(logger.FormatText),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "usage recorded", logger.UserID(id), logger.Action("generation"))
package logger
