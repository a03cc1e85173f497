package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// API mounts resources under /api/<version> behind the shared middleware.
// Routes registered directly on the engine, such as /health, skip that middleware.
type API struct {
	engine     *gin.Engine
	version    string
	middleware []gin.HandlerFunc
	resources  []*Resource
}

// Option configures an API
type Option func(*API)

// WithVersion sets the version segment of the base path
func WithVersion(version string) Option {
	return func(a *API) {
		a.version = version
	}
}

// WithMiddleware appends middleware run before every API route
func WithMiddleware(middleware ...gin.HandlerFunc) Option {
	return func(a *API) {
		a.middleware = append(a.middleware, middleware...)
	}
}

// NewAPI creates an API on engine, version v1 unless overridden
func NewAPI(engine *gin.Engine, opts ...Option) *API {
	a := &API{engine: engine, version: "v1"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mount queues resources for Setup
func (a *API) Mount(resources ...*Resource) *API {
	a.resources = append(a.resources, resources...)
	return a
}

// Setup registers every mounted resource on the engine
func (a *API) Setup() {
	base := a.engine.Group("/api/"+a.version, a.middleware...)
	for _, res := range a.resources {
		res.register(base)
	}
}

// Resource is a path prefix with its routes, an optional gate run before each
// of them, and nested resources that inherit the gate
type Resource struct {
	prefix   string
	gate     []gin.HandlerFunc
	routes   []route
	children []*Resource
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewResource creates a top-level resource
func NewResource(prefix string, gate ...gin.HandlerFunc) *Resource {
	return &Resource{prefix: prefix, gate: gate}
}

// Nest adds a child resource below res
func (res *Resource) Nest(prefix string, gate ...gin.HandlerFunc) *Resource {
	child := NewResource(prefix, gate...)
	res.children = append(res.children, child)
	return child
}

// Handle adds a route; handlers usually start with a role check
func (res *Resource) Handle(method, path string, handlers ...gin.HandlerFunc) *Resource {
	res.routes = append(res.routes, route{method: method, path: path, handlers: handlers})
	return res
}

func (res *Resource) GET(path string, handlers ...gin.HandlerFunc) *Resource {
	return res.Handle(http.MethodGet, path, handlers...)
}

func (res *Resource) POST(path string, handlers ...gin.HandlerFunc) *Resource {
	return res.Handle(http.MethodPost, path, handlers...)
}

func (res *Resource) PUT(path string, handlers ...gin.HandlerFunc) *Resource {
	return res.Handle(http.MethodPut, path, handlers...)
}

func (res *Resource) DELETE(path string, handlers ...gin.HandlerFunc) *Resource {
	return res.Handle(http.MethodDelete, path, handlers...)
}

// ConfigHandlers is the handler set of an admin-managed configuration object
// (rules, campaigns, risk rules)
type ConfigHandlers interface {
	Create(c *gin.Context)
	List(c *gin.Context)
	Get(c *gin.Context)
	Update(c *gin.Context)
	Delete(c *gin.Context)
	Enable(c *gin.Context)
	Disable(c *gin.Context)
}

// Config mounts the CRUD and toggle routes of a configuration object: reads
// behind read, every mutation behind write
func (res *Resource) Config(prefix string, h ConfigHandlers, read, write gin.HandlerFunc) *Resource {
	return res.Nest(prefix).
		POST("", write, h.Create).
		GET("", read, h.List).
		GET("/:id", read, h.Get).
		PUT("/:id", write, h.Update).
		DELETE("/:id", write, h.Delete).
		POST("/:id/enable", write, h.Enable).
		POST("/:id/disable", write, h.Disable)
}

func (res *Resource) register(parent *gin.RouterGroup) {
	group := parent.Group(res.prefix, res.gate...)
	for _, r := range res.routes {
		group.Handle(r.method, r.path, r.handlers...)
	}
	for _, child := range res.children {
		child.register(group)
	}
}
