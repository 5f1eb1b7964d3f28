// Package server assembles the services and HTTP routes of the groups forum.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/admin"
	"github.com/topcoder-platform/forums-groups/pkg/forums/apikeys"
	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/cache"
	"github.com/topcoder-platform/forums-groups/pkg/forums/config"
	"github.com/topcoder-platform/forums-groups/pkg/forums/discussions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/filters"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/invitations"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/metrics"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/notifications"
	"github.com/topcoder-platform/forums-groups/pkg/forums/views"
)

// APIPrefix is where the JSON API is mounted
const APIPrefix = "/api/v2"

// Deps are the infrastructure pieces the server is built from.
// Cache, Mailer and Registry are optional.
type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *logger.Logger
	Cache    cache.Cache
	Mailer   notifications.Mailer
	Registry *prometheus.Registry
}

// Server holds the router and the services behind it
type Server struct {
	Engine      *gin.Engine
	Tokens      *auth.TokenManager
	Groups      *groups.Service
	Invitations *invitations.Service
	Discussions *discussions.Service
	Notifier    *notifications.Notifier
}

// New wires services and routes. The schema must already be migrated.
func New(d Deps) (*Server, error) {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	mailer := d.Mailer
	if mailer == nil {
		mailer = notifications.NewMailer(cfg.Mail, log)
	}

	var m *metrics.Metrics
	if d.Registry != nil {
		m = metrics.New(d.Registry)
	}

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, err
	}
	pages, err := views.NewPageRenderer()
	if err != nil {
		return nil, err
	}

	s := &Server{
		Tokens:   auth.NewTokenManager(cfg.JWT),
		Notifier: notifications.NewNotifier(renderer, mailer, cfg.App.BaseURL),
	}
	s.Groups = groups.NewService(d.DB, groups.Options{
		Cache:        d.Cache,
		Metrics:      m,
		Logger:       log,
		Filters:      filters.Default(),
		ItemsPerPage: cfg.Groups.ItemsPerPage,
	})
	s.Invitations = invitations.NewService(d.DB, s.Groups, invitations.Options{
		Notifier:   s.Notifier,
		Metrics:    m,
		Logger:     log,
		Expiration: cfg.Groups.InviteExpiration,
		Debug:      cfg.App.Debug,
		Disabled:   !cfg.Groups.Features.Invitations,
	})
	s.Discussions = discussions.NewService(d.DB, s.Groups, discussions.Options{
		Notifier: s.Notifier,
		Logger:   log,
		Disabled: !cfg.Groups.Features.Discussions,
	})

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log), m.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Registry != nil {
		r.GET("/metrics", metrics.Handler(d.Registry))
	}

	api := r.Group(APIPrefix)
	{
		auth.NewHandler(d.DB, s.Tokens, log).RegisterRoutes(api.Group("/auth"))

		// API keys are managed with a JWT only
		apikeys.NewHandler(d.DB).RegisterRoutes(api.Group("", auth.AuthMiddleware(s.Tokens), auth.RequireActiveUser(d.DB)))

		protected := api.Group("", apikeys.CombinedAuthMiddleware(d.DB, s.Tokens, log))

		groupRoutes := protected.Group("/groups")
		groups.NewHandler(s.Groups).RegisterRoutes(groupRoutes)

		invitationHandler := invitations.NewHandler(s.Invitations)
		invitationHandler.RegisterGroupRoutes(groupRoutes)
		invitationHandler.RegisterRoutes(protected.Group("/invitations"))

		discussions.NewHandler(s.Discussions).RegisterGroupRoutes(groupRoutes)

		adminRoutes := api.Group("/admin", auth.AuthMiddleware(s.Tokens), auth.RequireActiveUser(d.DB), auth.RequireAdmin())
		admin.NewHandler(d.DB, s.Groups, log).RegisterRoutes(adminRoutes)
	}

	views.NewHandler(pages, s.Groups, s.Invitations, s.Discussions, log).
		RegisterRoutes(r.Group("", auth.OptionalAuth(s.Tokens), auth.OptionalActiveUser(d.DB)))

	s.Engine = r
	return s, nil
}

// EnsureAdmin creates the configured admin account when the forum has no admin yet.
// It does nothing without a configured password.
func EnsureAdmin(ctx context.Context, db *gorm.DB, cfg config.AppConfig, log *logger.Logger) error {
	if cfg.AdminPassword == "" {
		return nil
	}
	var count int64
	if err := db.WithContext(ctx).Model(&models.User{}).Where("system_role = ?", models.SystemRoleAdmin).Count(&count).Error; err != nil {
		return fmt.Errorf("counting admins: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" {
		return errors.New("app.admin_email is required to create the admin account")
	}
	user := models.User{
		Email:        email,
		Name:         "Admin",
		PasswordHash: hash,
		SystemRole:   models.SystemRoleAdmin,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}
	log.InfoContext(ctx, "created admin account", zap.String("email", email), zap.Uint("user_id", user.ID))
	return nil
}
