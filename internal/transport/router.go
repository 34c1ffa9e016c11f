package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/config"
	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/model"
)

// AdminRole is the role required by the notification routes.
const AdminRole = "admin"

// Dependencies holds all injected dependencies for the HTTP transport layer.
// Nil services leave their routes answering BACKEND_UNAVAILABLE.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Authenticate func(http.Handler) http.Handler
	LoginLimiter *IPRateLimiter
	Readiness    observability.ReadinessChecks

	Login  LoginService
	Wizard WizardService
	Damage DamageService
	Hub    NotificationHub
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and login bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)

	// Public routes.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	r.Get("/metrics", observability.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		r.Use(MetricsRecording(deps.Metrics))
		if deps.LoginLimiter != nil {
			r.Use(deps.LoginLimiter.Middleware("/ui/auth/login"))
		}
		r.Post("/ui/auth/login", orUnavailable(deps.Login != nil, func() http.HandlerFunc { return handleLogin(deps.Login) }))
	})

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(RequestLogging(logger))
		r.Use(MetricsRecording(deps.Metrics))

		// The stream is long-lived and runs without the handler timeout.
		r.With(RequireRole(AdminRole)).Get("/ui/admin/notifications/stream",
			orUnavailable(deps.Hub != nil, func() http.HandlerFunc {
				return handleNotificationStream(deps.Hub, newUpgrader(deps.Config.Server.CORS.AllowedOrigins))
			}))

		r.Group(func(r chi.Router) {
			r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))

			r.Post("/ui/auth/logout", orUnavailable(deps.Login != nil, func() http.HandlerFunc { return handleLogout(deps.Login) }))

			wizardRoute := func(h func(WizardService) http.HandlerFunc) http.HandlerFunc {
				return orUnavailable(deps.Wizard != nil, func() http.HandlerFunc { return h(deps.Wizard) })
			}
			r.Delete("/ui/wizards", wizardRoute(handleClearAll))
			r.Get("/ui/wizards/{wizardId}", wizardRoute(handleWizardState))
			r.Delete("/ui/wizards/{wizardId}", wizardRoute(handleClearWizard))
			r.Get("/ui/wizards/{wizardId}/steps/{stepId}", wizardRoute(handleMountStep))
			r.Put("/ui/wizards/{wizardId}/steps/{stepId}/fields/{field}", wizardRoute(handleUpdateField))
			r.Post("/ui/wizards/{wizardId}/steps/{stepId}/groups/{group}", wizardRoute(handleAddGroupEntry))
			r.Delete("/ui/wizards/{wizardId}/steps/{stepId}/groups/{group}/{index}", wizardRoute(handleRemoveGroupEntry))
			r.Put("/ui/wizards/{wizardId}/steps/{stepId}/groups/{group}/{index}/{field}", wizardRoute(handleUpdateGroupField))
			r.Post("/ui/wizards/{wizardId}/steps/{stepId}/next", wizardRoute(handleNextStep))
			r.Post("/ui/wizards/{wizardId}/steps/{stepId}/previous", wizardRoute(handlePreviousStep))
			r.Post("/ui/wizards/claim-submission/damage-details/submit",
				orUnavailable(deps.Damage != nil, func() http.HandlerFunc {
					return handleSubmitDamage(deps.Damage, deps.Config.Server.MaxUploadBytes)
				}))

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(AdminRole))
				hubRoute := func(h func(NotificationHub) http.HandlerFunc) http.HandlerFunc {
					return orUnavailable(deps.Hub != nil, func() http.HandlerFunc { return h(deps.Hub) })
				}
				r.Get("/ui/admin/notifications", hubRoute(handleNotificationsStatus))
				r.Post("/ui/admin/notifications/connect", hubRoute(handleNotificationsConnect))
				r.Post("/ui/admin/notifications/disconnect", hubRoute(handleNotificationsDisconnect))
				r.Delete("/ui/admin/notifications/{id}", hubRoute(handleNotificationDismiss))
			})
		})
	})

	return r
}

// orUnavailable builds the handler when its service is wired.
func orUnavailable(wired bool, build func() http.HandlerFunc) http.HandlerFunc {
	if wired {
		return build()
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, model.NewBackendUnavailableError())
	}
}
