// Package builtin assembles the default backend set.
package builtin

import (
	"slices"
	"strings"

	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer/local"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer/remote"
)

// Options controls NewRegistry.
type Options struct {
	// Client is the HTTP transport for uploads and downloads. Nil uses defaults.
	Client optimizer.HTTPDoer

	// Order restricts and reorders the backends. Empty keeps the default order.
	Order []string

	// Disabled names backends to leave out.
	Disabled []string

	// Env configures the backends. Nil reads the process environment.
	Env optimizer.Environment

	// All keeps local tools whose executable is missing. Without an
	// explicit Order such tools are otherwise left out so their
	// extensions fall through to the remote services.
	All bool
}

// Names lists the default backends in priority order.
func Names() []string {
	return []string{
		local.GifsicleName,
		local.JpegTranName,
		local.PngOutName,
		remote.KrakenName,
		remote.PunyPngName,
		remote.SmushItName,
	}
}

// Backends returns configured backends in priority order. Local tools come
// first since they need no credentials. With the default order, tools that
// are not installed are dropped unless opts.All is set; an explicit Order
// is taken as given.
func Backends(opts Options) []optimizer.Backend {
	var remoteOpts []remote.Option
	if opts.Client != nil {
		remoteOpts = append(remoteOpts, remote.WithClient(opts.Client))
	}

	all := []optimizer.Backend{
		local.NewGifsicle(),
		local.NewJpegTran(),
		local.NewPngOut(),
		remote.NewKraken(remoteOpts...),
		remote.NewPunyPng(remoteOpts...),
		remote.NewSmushIt(remoteOpts...),
	}

	selected := order(all, opts.Order)
	selected = slices.DeleteFunc(selected, func(b optimizer.Backend) bool {
		return containsFold(opts.Disabled, b.Name())
	})

	env := opts.Env
	if env == nil {
		env = optimizer.OSEnv
	}
	for _, b := range selected {
		b.Configure(env)
	}

	if len(opts.Order) == 0 && !opts.All {
		selected = slices.DeleteFunc(selected, func(b optimizer.Backend) bool {
			if Available(b) {
				return false
			}
			logging.Get("registry").Debug("skipping tool that is not installed", "service", b.Name())
			return true
		})
	}
	return selected
}

// NewRegistry returns a registry holding Backends(opts).
func NewRegistry(opts Options) *optimizer.Registry {
	r := optimizer.NewRegistry(optimizer.WithFetcher(optimizer.NewFetcher(opts.Client)))
	for _, b := range Backends(opts) {
		r.Add(b)
	}
	return r
}

// Kind reports "local" for installed tools and "remote" for web services.
func Kind(b optimizer.Backend) string {
	if _, ok := b.(*local.Tool); ok {
		return "local"
	}
	return "remote"
}

// Available reports whether b can run here. Remote services are assumed
// reachable.
func Available(b optimizer.Backend) bool {
	if a, ok := b.(interface{ Available() bool }); ok {
		return a.Available()
	}
	return true
}

func order(all []optimizer.Backend, names []string) []optimizer.Backend {
	if len(names) == 0 {
		return all
	}

	logger := logging.Get("registry")
	out := make([]optimizer.Backend, 0, len(names))
	for _, name := range names {
		idx := slices.IndexFunc(all, func(b optimizer.Backend) bool {
			return strings.EqualFold(b.Name(), strings.TrimSpace(name))
		})
		if idx < 0 {
			logger.Warn("ignoring unknown service in order", "service", name)
			continue
		}
		if slices.Contains(out, all[idx]) {
			continue
		}
		out = append(out, all[idx])
	}
	return out
}

func containsFold(list []string, name string) bool {
	return slices.ContainsFunc(list, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), name)
	})
}
