// Package environment carries the deployment environment (development,
// staging, production) through context.Context and into structured logs.
//
// Parse normalises the raw APP_ENV value, accepting the short aliases
// "dev", "stage" and "prod". Middleware attaches the environment to every
// request context and LoggerExtractor exposes it to pkg/logger:
//
//	env := environment.Parse(os.Getenv("APP_ENV"))
//	log := logger.New(
//		logger.WithEnvironment(env, "quotakit"),
//		logger.WithContextExtractors(environment.LoggerExtractor()),
//	)
//	r.Use(environment.Middleware(env))
package environment
