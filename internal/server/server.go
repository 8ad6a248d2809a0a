package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/learnify/learnify/internal/config"
	"github.com/learnify/learnify/internal/credit"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	"github.com/learnify/learnify/internal/observability"
	obsmiddleware "github.com/learnify/learnify/internal/observability/logger"
	obsmetrics "github.com/learnify/learnify/internal/observability/metrics"
	obstracing "github.com/learnify/learnify/internal/observability/tracing"
	"github.com/learnify/learnify/internal/payment"
	paymentdomain "github.com/learnify/learnify/internal/payment/domain"
	"github.com/learnify/learnify/internal/pricing"
	"github.com/learnify/learnify/internal/ratelimit"
	"github.com/learnify/learnify/internal/receipt"
	"github.com/learnify/learnify/internal/study"
	studydomain "github.com/learnify/learnify/internal/study/domain"
	"github.com/learnify/learnify/internal/subject"
	subjectdomain "github.com/learnify/learnify/internal/subject/domain"
	"github.com/learnify/learnify/internal/tutor"
	tutordomain "github.com/learnify/learnify/internal/tutor/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	pricing.Module,
	credit.Module,
	tutor.Module,
	study.Module,
	subject.Module,
	payment.Module,
	receipt.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	genID      *snowflake.Node
	creditSvc  creditdomain.Service
	tutorSvc   tutordomain.Service
	studySvc   studydomain.Service
	subjectSvc subjectdomain.Service
	paymentSvc paymentdomain.Service
	pricingSvc *pricing.Service
	receipts   *receipt.Generator
	limiter    *ratelimit.BillableLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	GenID      *snowflake.Node
	CreditSvc  creditdomain.Service
	TutorSvc   tutordomain.Service
	StudySvc   studydomain.Service
	SubjectSvc subjectdomain.Service
	PaymentSvc paymentdomain.Service
	PricingSvc *pricing.Service
	Receipts   *receipt.Generator
	Limiter    *ratelimit.BillableLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		creditSvc:  p.CreditSvc,
		tutorSvc:   p.TutorSvc,
		studySvc:   p.StudySvc,
		subjectSvc: p.SubjectSvc,
		paymentSvc: p.PaymentSvc,
		pricingSvc: p.PricingSvc,
		receipts:   p.Receipts,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Pricing --------
	api.GET("/pricing/models", s.ListModels)
	api.GET("/pricing/packages", s.ListPackages)

	// -------- Credits --------
	credits := api.Group("/credits", s.OwnerRequired())
	{
		credits.GET("/balance", s.GetBalance)
		credits.GET("/grants", s.ListGrants)
		credits.GET("/grants/:grantId/receipt", s.GetGrantReceipt)
		credits.GET("/usage", s.ListUsage)
	}

	// -------- Tutor --------
	tutorGroup := api.Group("/tutor", s.OwnerRequired(), s.BillableRateLimit())
	{
		tutorGroup.POST("/chat", s.TutorChat)
		tutorGroup.POST("/notes", s.TutorNotes)
		tutorGroup.POST("/quiz", s.TutorQuiz)
	}

	// -------- Study --------
	studyGroup := api.Group("/study", s.OwnerRequired())
	{
		studyGroup.POST("/sessions", s.RecordSession)
		studyGroup.GET("/sessions", s.ListSessions)
		studyGroup.POST("/quiz-results", s.SaveQuizResult)
		studyGroup.GET("/quiz-results", s.ListQuizResults)
		studyGroup.GET("/progress", s.GetProgress)
	}

	// -------- Subjects --------
	subjects := api.Group("/subjects", s.OwnerRequired())
	{
		subjects.POST("", s.CreateSubject)
		subjects.GET("", s.ListSubjects)
	}
}

func (s *Server) registerWebhookRoutes() {
	api := s.engine.Group("/api")

	// Webhook signatures gate this route, not the owner header.
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
}
