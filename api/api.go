package api

import (
	"github.com/flowctl/policyd/draft"
	"github.com/flowctl/policyd/health"
	"github.com/flowctl/policyd/resolver"
	"github.com/flowctl/policyd/stats"
	"github.com/flowctl/policyd/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Response struct {
	Code int         `json:"code,omitempty"`
	Msg  string      `json:"msg,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// Options carries the engine components the API serves. Dependencies are
// injected explicitly so the handlers can be exercised against in-memory
// fakes.
type Options struct {
	Store      *store.Store
	Controller *draft.Controller
	Resolver   *resolver.Resolver
	Tracker    *health.Tracker
	Stats      *stats.Aggregator

	AccessLog  bool
	PathPrefix string
	Auth       func(username, password string) bool
}

type handler struct {
	options *Options
}

func Register(r *gin.Engine, opts *Options) {
	if opts == nil {
		opts = &Options{}
	}
	h := &handler{
		options: opts,
	}

	r.Use(
		cors.New((cors.Config{
			AllowAllOrigins:     true,
			AllowMethods:        []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:        []string{"*"},
			AllowPrivateNetwork: true,
		})),
		gin.Recovery(),
	)
	if opts.AccessLog {
		r.Use(mwLogger())
	}

	router := r.Group("")
	if opts.PathPrefix != "" {
		router = router.Group(opts.PathPrefix)
	}

	config := router.Group("/config")
	config.Use(mwBasicAuth(opts.Auth))

	config.GET("", getConfig)
	config.POST("", saveConfig)

	config.GET("/groups", h.getGroupList)
	config.GET("/egresses", h.getEgressList)
	config.GET("/dns", h.getDNSPolicyList)
	config.GET("/matchers", h.getMatcherList)

	policy := router.Group("/policy")
	policy.Use(mwBasicAuth(opts.Auth))

	policy.GET("/rules", h.getRuleList)
	policy.GET("/rules/:rule", h.getRule)
	policy.POST("/rules", h.createRule)
	policy.PUT("/rules/:rule", h.updateRule)
	policy.DELETE("/rules/:rule", h.deleteRule)

	policy.GET("/drafts", h.getDraftList)
	policy.POST("/drafts", h.stageDraft)
	policy.DELETE("/drafts", h.discardDrafts)
	policy.DELETE("/drafts/:draft", h.discardDraft)
	policy.POST("/drafts/apply", h.applyDrafts)

	policy.POST("/resolve", h.resolveFlow)

	policy.GET("/stats", h.getStats)
	policy.DELETE("/stats", h.resetStats)
	policy.DELETE("/stats/:rule", h.resetRuleStats)

	policy.GET("/health", h.getHealth)

	policy.GET("/export", h.exportRules)
	policy.POST("/import", h.importRules)
}
