package plugin

import (
	"context"
	"net/http"
	"time"

	"plugin-runtime/internal/markup"
)

// Handler is the business side of a plugin. The registry calls these methods
// inside lifecycle transitions; a returned error (or a panic) aborts the
// transition before anything is persisted.
type Handler interface {
	Install(ctx context.Context, msgs *Messages) error
	Uninstall(ctx context.Context, msgs *Messages) error
	Enable(ctx context.Context, msgs *Messages) error
	Disable(ctx context.Context, msgs *Messages) error
}

// Request is what request hooks receive from the host.
type Request struct {
	Writer http.ResponseWriter
	HTTP   *http.Request
	// Vars is the render context of the page being served.
	Vars *markup.Context
	// Err is set for PageError hooks.
	Err error
}

// Context returns the request's context, or context.Background.
func (r *Request) Context() context.Context {
	if r.HTTP != nil {
		return r.HTTP.Context()
	}
	return context.Background()
}

// Optional hook interfaces. A plugin declares interest in a hook by
// implementing its interface.
type (
	RequestStartHook interface {
		OnRequestStart(req *Request)
	}
	RequestEndHook interface {
		OnRequestEnd(req *Request)
	}
	PageErrorHook interface {
		OnPageError(req *Request)
	}
	PageNotFoundHook interface {
		OnPageNotFound(req *Request)
	}
	PluginStartHook interface {
		OnPluginStart(ctx context.Context)
	}
	PluginStopHook interface {
		OnPluginStop(ctx context.Context)
	}

	// CycleHook is called by the cycler every CycleInterval. The callback runs
	// under the registry lock and must not call back into the registry;
	// HandlerCache is lock-free and safe.
	CycleHook interface {
		CycleInterval() time.Duration
		OnPluginCycle(ctx context.Context) error
	}

	// ActionHook observes lifecycle transitions of other plugins. Returning
	// false from a Pre* action vetoes the transition; the result of Post*
	// actions is ignored. Pre* actions must not have side effects. Actions run
	// under the registry lock and must not call back into the registry;
	// HandlerCache is lock-free and safe.
	ActionHook interface {
		OnPluginAction(ctx context.Context, action Action, target *Plugin, msgs *Messages) bool
	}

	// FunctionProvider contributes template functions, registered under the
	// plugin's ownership when it is installed.
	FunctionProvider interface {
		TemplateFunctions() map[string]markup.Func
	}
)

// Action is a lifecycle event broadcast to ActionHook implementations.
type Action int

const (
	PreInstall Action = iota
	PostInstall
	PreUninstall
	PostUninstall
	PreEnable
	PostEnable
	PreDisable
	PostDisable
)

var actionNames = [...]string{
	PreInstall:    "pre_install",
	PostInstall:   "post_install",
	PreUninstall:  "pre_uninstall",
	PostUninstall: "post_uninstall",
	PreEnable:     "pre_enable",
	PostEnable:    "post_enable",
	PreDisable:    "pre_disable",
	PostDisable:   "post_disable",
}

func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// IsPre reports whether the action may be vetoed.
func (a Action) IsPre() bool {
	return a%2 == 0
}

// DeriveInterest inspects which optional interfaces h implements.
func DeriveInterest(h Handler) Interest {
	var i Interest
	if h == nil {
		return i
	}
	_, i.RequestStart = h.(RequestStartHook)
	_, i.RequestEnd = h.(RequestEndHook)
	_, i.PageError = h.(PageErrorHook)
	_, i.PageNotFound = h.(PageNotFoundHook)
	_, i.PluginStart = h.(PluginStartHook)
	_, i.PluginStop = h.(PluginStopHook)
	_, i.PluginAction = h.(ActionHook)
	if c, ok := h.(CycleHook); ok {
		i.CycleInterval = c.CycleInterval()
	}
	return i
}
