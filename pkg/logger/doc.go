// Package logger builds *slog.Logger instances with functional options and
// injects request-scoped attributes from context.Context on every record.
//
// New selects a text or JSON handler, applies static attributes and wraps the
// handler with LogHandlerDecorator, which runs the registered ContextExtractor
// callbacks (request id, environment) right before a record is written.
//
//	log := logger.New(
//		logger.WithEnvironment(environment.Production, "quotakit"),
//		logger.WithContextExtractors(environment.LoggerExtractor()),
//	)
//	log.WarnContext(ctx, "payment signature mismatch",
//		logger.TenantID(tenantID),
//		logger.OrderRef(orderRef),
//	)
//
// The attribute helpers in attr.go keep key names consistent across
// packages. Helpers taking an error return an empty attribute for nil so they
// can be passed unconditionally.
package logger
