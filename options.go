package asyncrender

import (
	"github.com/Swind/go-async-render/core"
	"github.com/Swind/go-async-render/render"
)

type options struct {
	config         *Config
	logger         core.Logger
	metrics        core.Metrics
	failureHandler core.TaskFailureHandler
	renderHook     render.RenderHook
	onReady        func()
}

// Option configures a Demo.
type Option func(*options)

// WithConfig replaces DefaultConfig. Zero fields are still defaulted.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = &cfg
	}
}

// WithLogger sets the logger used by every component. By default a console
// logger at the configured level is created.
func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink for task and frame metrics.
func WithMetrics(m core.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithFailureHandler receives the failures of async tasks, which have no
// caller to return them to.
func WithFailureHandler(h core.TaskFailureHandler) Option {
	return func(o *options) {
		o.failureHandler = h
	}
}

// WithRenderHook runs hook on the render thread at the start of every frame.
// It may poll the abort signal it is given.
func WithRenderHook(hook render.RenderHook) Option {
	return func(o *options) {
		o.renderHook = hook
	}
}

// WithOnReady runs fn on the UI thread once the render thread is running.
func WithOnReady(fn func()) Option {
	return func(o *options) {
		o.onReady = fn
	}
}
