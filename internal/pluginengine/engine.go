// Package pluginengine loads Go plugins that observe or mutate the script
// pipeline, and dispatches their hook callbacks in load order. It is the
// Go-native analog of the original system's GModule-based plugin loader:
// plugin.Open/Lookup stand in for dlopen/dlsym, and a fixed array of
// optional callbacks per loaded plugin stands in for the original's
// function-pointer table.
package pluginengine

import (
	"errors"
	"plugin"
	"strings"

	"go.uber.org/zap"

	"crispy/internal/crispyerr"
)

// Descriptor is the mandatory metadata every plugin exports.
type Descriptor struct {
	Name        string
	Description string
	Version     string
	Author      string
	License     string
}

const descriptorSymbol = "CrispyPluginInfo"
const initSymbol = "CrispyPluginInit"
const shutdownSymbol = "CrispyPluginShutdown"

var hookSymbolNames = [hookPointCount]string{
	SourceLoaded:   "CrispyPluginOnSourceLoaded",
	ParamsExpanded: "CrispyPluginOnParamsExpanded",
	HashComputed:   "CrispyPluginOnHashComputed",
	CacheChecked:   "CrispyPluginOnCacheChecked",
	PreCompile:     "CrispyPluginOnPreCompile",
	PostCompile:    "CrispyPluginOnPostCompile",
	ModuleLoaded:   "CrispyPluginOnModuleLoaded",
	PreExecute:     "CrispyPluginOnPreExecute",
	PostExecute:    "CrispyPluginOnPostExecute",
}

type entry struct {
	path       string
	handle     *plugin.Plugin
	descriptor *Descriptor
	state      any
	shutdown   func(any)
	hooks      [hookPointCount]HookFunc
}

// Engine owns an ordered collection of loaded plugins and the shared data
// store they all reach through HookContext.Engine. Load order is dispatch
// order; there is no priority and no re-entrancy protection, matching the
// original system exactly.
type Engine struct {
	log     *zap.Logger
	entries []*entry
	store   *Store
}

// New returns an empty engine ready to load plugins.
func New(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log, store: newStore()}
}

// Store returns the shared key/value store plugins read and write during
// hook dispatch.
func (e *Engine) Store() *Store { return e.store }

// Load opens the plugin at path, resolves its mandatory descriptor and its
// optional init/shutdown/hook symbols, runs the initializer if present, and
// appends it to the dispatch order. A missing descriptor is a
// crispyerr.Plugin error; a failing initializer leaves the plugin
// unregistered (not retained, shutdown never called).
func (e *Engine) Load(path string) error {
	handle, err := plugin.Open(path)
	if err != nil {
		return crispyerr.Wrap(crispyerr.Plugin, "open plugin "+path, err)
	}

	descriptor, err := resolveDescriptor(handle)
	if err != nil {
		return crispyerr.Wrap(crispyerr.Plugin, "resolve descriptor for "+path, err)
	}

	ent := &entry{path: path, handle: handle, descriptor: descriptor}

	if sym, err := handle.Lookup(initSymbol); err == nil {
		initFn, ok := sym.(func() any)
		if !ok {
			return crispyerr.New(crispyerr.Plugin, path+": "+initSymbol+" has the wrong signature")
		}
		ent.state = initFn()
	}

	if sym, err := handle.Lookup(shutdownSymbol); err == nil {
		shutdownFn, ok := sym.(func(any))
		if !ok {
			return crispyerr.New(crispyerr.Plugin, path+": "+shutdownSymbol+" has the wrong signature")
		}
		ent.shutdown = shutdownFn
	}

	for point, name := range hookSymbolNames {
		sym, err := handle.Lookup(name)
		if err != nil {
			continue
		}
		hookFn, ok := sym.(func(*HookContext) HookResult)
		if !ok {
			return crispyerr.New(crispyerr.Plugin, path+": "+name+" has the wrong signature")
		}
		ent.hooks[point] = hookFn
	}

	e.entries = append(e.entries, ent)
	e.log.Debug("plugin loaded",
		zap.String("path", path),
		zap.String("name", descriptor.Name),
		zap.String("version", descriptor.Version))
	return nil
}

// AddInProcess registers a plugin's hooks directly, without going through
// plugin.Open. It exists for programs that want to ship a built-in hook
// set compiled into the same binary as the orchestrator, and for tests
// that want deterministic hook behavior without a real .so artifact. It
// participates in dispatch order exactly like a loaded plugin: appended
// after whatever is already registered.
func (e *Engine) AddInProcess(descriptor Descriptor, hooks map[HookPoint]HookFunc) {
	ent := &entry{descriptor: &descriptor}
	for point, fn := range hooks {
		ent.hooks[point] = fn
	}
	e.entries = append(e.entries, ent)
}

// LoadList loads every path in a ":"- or ","-delimited list, in order,
// stopping at the first failure.
func (e *Engine) LoadList(spec string) error {
	for _, path := range splitPluginList(spec) {
		if path == "" {
			continue
		}
		if err := e.Load(path); err != nil {
			return err
		}
	}
	return nil
}

func splitPluginList(spec string) []string {
	spec = strings.ReplaceAll(spec, ",", ":")
	return strings.Split(spec, ":")
}

func resolveDescriptor(handle *plugin.Plugin) (*Descriptor, error) {
	sym, err := handle.Lookup(descriptorSymbol)
	if err != nil {
		return nil, errors.New("missing mandatory symbol " + descriptorSymbol)
	}
	switch v := sym.(type) {
	case *Descriptor:
		return v, nil
	case func() *Descriptor:
		return v(), nil
	default:
		return nil, errors.New(descriptorSymbol + " has the wrong type")
	}
}

// Dispatch walks loaded plugins in load order, invoking any callback
// registered for point. Before each call it swaps the plugin's own opaque
// state into ctx.PluginData, and copies the (possibly updated) value back
// out afterward, so plugins never observe each other's state. The first
// non-Continue result stops dispatch immediately. Continue is returned
// when no plugin handles the point, or when e is nil.
func (e *Engine) Dispatch(point HookPoint, ctx *HookContext) HookResult {
	ctx.Point = point
	ctx.Engine = e

	if e == nil {
		return Continue
	}

	for _, ent := range e.entries {
		hook := ent.hooks[point]
		if hook == nil {
			continue
		}
		ctx.PluginData = ent.state
		result := hook(ctx)
		ent.state = ctx.PluginData
		if result != Continue {
			return result
		}
	}
	return Continue
}

// Descriptors returns the metadata of every loaded plugin, in load order.
func (e *Engine) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(e.entries))
	for i, ent := range e.entries {
		out[i] = ent.descriptor
	}
	return out
}

// Close runs every plugin's shutdown callback (if any) with its final
// state token, then frees the shared store. Go's plugin package has no
// unload primitive, so the underlying *plugin.Plugin handles simply stay
// mapped for the life of the process — consistent with the system's
// "no lifetime supervision" non-goal.
func (e *Engine) Close() {
	for _, ent := range e.entries {
		if ent.shutdown != nil {
			ent.shutdown(ent.state)
		}
	}
	e.entries = nil
	e.store.closeAll()
}
