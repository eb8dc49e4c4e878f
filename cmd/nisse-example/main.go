//go:build linux

// Command nisse-example wires Config, Reactor, JobQueue, PathMatcher and
// Dispatcher into a runnable server, analogous to the role
// _examples/original_source/NisseServer/Pynt.h plays as the original's
// top-level wiring object. It exists to give the ambient logging/metrics/
// config stack genuine call sites, not as a production entry point.
package main

import (
	"bytes"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"

	"github.com/thorsanvil/nisse/config"
	"github.com/thorsanvil/nisse/dispatch"
	"github.com/thorsanvil/nisse/hdr"
	"github.com/thorsanvil/nisse/jobqueue"
	"github.com/thorsanvil/nisse/nctx"
	"github.com/thorsanvil/nisse/pathmatch"
	"github.com/thorsanvil/nisse/reactor"
	"github.com/thorsanvil/nisse/task"
	"github.com/thorsanvil/nisse/timer"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; defaults to one listener on :8080")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("load config")
		}
		cfg = loaded
	}

	matcher := &pathmatch.Matcher{}
	d := dispatch.New(matcher, log)
	if err := registerRoutes(d); err != nil {
		log.WithError(err).Fatal("register routes")
	}

	store := reactor.NewStore()
	wheel := timer.NewWheel()

	backend, err := reactor.NewEpollBackend()
	if err != nil {
		log.WithError(err).Fatal("create epoll backend")
	}

	reg := prometheus.NewRegistry()
	if err := store.Register(reg); err != nil {
		log.WithError(err).Fatal("register store metrics")
	}
	if err := d.Register(reg); err != nil {
		log.WithError(err).Fatal("register dispatch metrics")
	}
	if err := registerMetricsRoute(d, reg); err != nil {
		log.WithError(err).Fatal("register metrics route")
	}

	var r *reactor.Reactor
	jobs := jobqueue.New(cfg.WorkerCount, 256, func(tok jobqueue.Token, kind task.YieldKind) {
		r.OnYield(tok, kind)
	}, log)
	r = reactor.New(backend, store, jobs, wheel, log)

	for _, l := range cfg.Listeners {
		if l.Protocol != "tcp" {
			log.WithField("protocol", l.Protocol).Fatal("unsupported listener protocol")
		}
		fd, err := reactor.ListenTCP(l.Address)
		if err != nil {
			log.WithError(err).WithField("address", l.Address).Fatal("listen")
		}
		if err := r.AddListener(fd, func(connFD int32, self func() *task.Task) task.Body {
			connID := uuid.NewString()
			return func(y *task.Yielder) {
				ctx := nctx.New(connFD, self, y, store, wheel, r.IsFeatureEnabled)
				ctx.ConnID = connID
				d.Serve(ctx)
			}
		}); err != nil {
			log.WithError(err).WithField("address", l.Address).Fatal("add listener")
		}
		log.WithField("address", l.Address).Info("listening")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("stopping")
		if err := r.StopSoft(); err != nil {
			log.WithError(err).Warn("stop soft")
		}
	}()

	if err := r.Run(nil); err != nil {
		log.WithError(err).Fatal("reactor run")
	}
}

func defaultConfig() *config.Config {
	return &config.Config{
		WorkerCount: 4,
		Listeners: []config.ListenerConfig{
			{Address: "0.0.0.0:8080", Protocol: "tcp"},
		},
	}
}

func registerRoutes(d *dispatch.Dispatcher) error {
	if err := d.Handle(pathmatch.Method("GET"), "/hello/{who}", func(req *dispatch.Request, resp *dispatch.Response) bool {
		resp.Header.Set(hdr.ContentType, "text/plain; charset=utf-8")
		resp.Write([]byte("Hello, " + req.Variables["who"] + "!"))
		return true
	}, nil); err != nil {
		return err
	}

	return d.Handle(pathmatch.Method("POST"), "/echo", func(req *dispatch.Request, resp *dispatch.Response) bool {
		raw, err := req.Body.PreloadIntoBuffer()
		if err != nil {
			return false
		}
		resp.UseChunkedOutput()
		resp.Write(raw)
		return true
	}, nil)
}

func registerMetricsRoute(d *dispatch.Dispatcher, reg *prometheus.Registry) error {
	return d.Handle(pathmatch.Method("GET"), "/metrics", func(req *dispatch.Request, resp *dispatch.Response) bool {
		mfs, err := reg.Gather()
		if err != nil {
			return false
		}
		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				return false
			}
		}
		resp.Header.Set(hdr.ContentType, string(expfmt.FmtText))
		resp.Write(buf.Bytes())
		return true
	}, nil)
}
