package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ActivityHandler   *handler.ActivityHandler
	SubmissionHandler *handler.SubmissionHandler
	ScoreHandler      *handler.ScoreHandler
	PlagiarismHandler *handler.PlagiarismHandler
	AuditHandler      *handler.AuditHandler
	GradeFeedHandler  *handler.GradeFeedHandler
	CourseHandler     *handler.CourseHandler
	HealthChecks      map[string]handler.HealthCheckFunc
	JWTMiddleware     fiber.Handler
	// SubmitRateLimit caps submissions per client and minute; zero disables it.
	SubmitRateLimit int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	staffOnly := middleware.RequireStaff()

	activities := api.Group("/activities", jwtMiddleware)
	if deps.SubmitRateLimit > 0 {
		activities.Post("/:id/submissions", middleware.RateLimit("submissions", deps.SubmitRateLimit, time.Minute))
	}
	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(activities)
	}
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.RegisterActivityRoutes(activities)

		submissions := api.Group("/submissions", jwtMiddleware)
		deps.SubmissionHandler.Register(submissions)
	}
	if deps.PlagiarismHandler != nil {
		deps.PlagiarismHandler.Register(activities)
	}

	if deps.ScoreHandler != nil {
		scores := api.Group("/scores", jwtMiddleware)
		deps.ScoreHandler.Register(scores)
	}

	if deps.GradeFeedHandler != nil {
		grades := api.Group("/grades", jwtMiddleware)
		deps.GradeFeedHandler.Register(grades)
	}

	admin := api.Group("/admin", jwtMiddleware, staffOnly)
	if deps.AuditHandler != nil {
		deps.AuditHandler.Register(admin.Group("/audit"))
	}
	if deps.CourseHandler != nil {
		deps.CourseHandler.Register(admin.Group("/courses"))
	}
}
