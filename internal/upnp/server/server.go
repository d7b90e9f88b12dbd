// Package server implements the Server type named in spec.md §3/§4.2: a
// single HTTP listener plus SSDP responder serving a tree of registered
// device instances.
//
// Grounded on internal/server/server.go's chi-mux router-wiring style
// and its shutdown-closure convention (a single func(ctx) error stopping
// every owned goroutine and listener); GENA's SUBSCRIBE/UNSUBSCRIBE
// verbs are mounted with chi's method-agnostic Handle rather than the
// teacher's pre-chi http.ServeMux wrapper, since chi itself already
// routes non-REST methods through Handle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coissac/pmomusic/internal/upnp/device"
	"github.com/coissac/pmomusic/internal/upnp/gena"
	"github.com/coissac/pmomusic/internal/upnp/soap"
	"github.com/coissac/pmomusic/internal/upnp/ssdp"
)

// DefaultServerName is the SSDP SERVER header this runtime advertises,
// matching the original PMOMusic lineage file's
// fmt.Sprintf("%s/%s UPnP/1.1 PMOMusic/1.0", runtime.GOOS, runtime.GOARCH)
// construction.
func DefaultServerName() string {
	return fmt.Sprintf("%s/%s UPnP/1.1 PMOMusic/1.0", runtime.GOOS, runtime.GOARCH)
}

// Options controls Server construction.
type Options struct {
	Name               string // SSDP SERVER header; defaults to DefaultServerName()
	Host               string
	Port               string
	BaseURL            string
	SSDPMaxAgeSeconds  int
	GenaDefaultTimeout time.Duration
	GenaMaxMissed      int
	ShutdownGrace      time.Duration
	Logger             *log.Logger
}

type registeredService struct {
	di       *device.DeviceInstance
	svc      *device.Service
	si       *device.ServiceInstance
	notifier *gena.Notifier
}

// Server owns one HTTP listener, one SSDP responder, and the set of root
// device instances mounted under it (spec.md §3's "root device-instance
// set"). Start/Run/Stop are idempotent (spec.md §4.2).
type Server struct {
	name              string
	host              string
	port              string
	baseURL           string
	ssdpMaxAgeSeconds int
	genaTimeout       time.Duration
	genaMaxMissed     int
	shutdownGrace     time.Duration
	logger            *log.Logger

	mux *chi.Mux

	mu       sync.RWMutex
	roots    []*device.DeviceInstance
	services []*registeredService

	httpServer *http.Server
	listener   net.Listener
	responder  *ssdp.Responder

	startOnce sync.Once
	started   bool
	running   bool
	stopOnce  sync.Once
}

// New builds a Server bound to opts. It does not listen on anything
// until Start or Run is called.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	name := opts.Name
	if name == "" {
		name = DefaultServerName()
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	maxAge := opts.SSDPMaxAgeSeconds
	if maxAge <= 0 {
		maxAge = 1800
	}
	genaTimeout := opts.GenaDefaultTimeout
	if genaTimeout <= 0 {
		genaTimeout = 30 * time.Minute
	}
	genaMaxMissed := opts.GenaMaxMissed
	if genaMaxMissed <= 0 {
		genaMaxMissed = 3
	}

	s := &Server{
		name:              name,
		host:              opts.Host,
		port:              opts.Port,
		baseURL:           strings.TrimSuffix(opts.BaseURL, "/"),
		ssdpMaxAgeSeconds: maxAge,
		genaTimeout:       genaTimeout,
		genaMaxMissed:     genaMaxMissed,
		shutdownGrace:     grace,
		logger:            logger,
		mux:               chi.NewRouter(),
	}
	return s
}

// RegisterDevice mounts a new root device instance (and recursively, its
// embedded sub-devices): a description handler at
// /device/{type}/{udn}/desc.xml, and per-service scpd.xml/control/event
// handlers (spec.md §4.2's register_device). It must be called before
// Start/Run.
func (s *Server) RegisterDevice(def *device.Device) (*device.DeviceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("server: cannot register a device after Start")
	}

	di, err := device.NewDeviceInstance(def, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("server: register device: %w", err)
	}
	walkInstances(di, s.mountDeviceInstance)
	s.roots = append(s.roots, di)
	return di, nil
}

// walkInstances calls fn for di and every descendant, depth-first.
// DeviceInstance.walk is unexported to package device, so the server
// (which needs to mount every level of a device tree, not just the
// root) keeps its own copy driven off the exported Children field.
func walkInstances(di *device.DeviceInstance, fn func(*device.DeviceInstance)) {
	fn(di)
	for _, c := range di.Children {
		walkInstances(c, fn)
	}
}

func (s *Server) mountDeviceInstance(di *device.DeviceInstance) {
	base := di.BaseRoute()

	s.mux.Get(base+"/desc.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		_, _ = w.Write([]byte(di.DescriptionXML()))
	})

	for _, svc := range di.Def.Services {
		svc := svc
		si := di.Services[svc.ID]

		s.mux.Get(base+"/"+svc.ID+"/scpd.xml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
			_, _ = w.Write([]byte(device.SCPDXML(svc)))
		})

		dispatcher := soap.NewDispatcher(di, svc, si, s.logger)
		s.mux.Post(base+"/"+svc.ID+"/control", dispatcher.ServeHTTP)

		notifier := gena.NewNotifier(s.genaMaxMissed, s.logger)
		s.services = append(s.services, &registeredService{di: di, svc: svc, si: si, notifier: notifier})

		genaHandler := &gena.Handler{
			Notifier:       notifier,
			DefaultTimeout: s.genaTimeout,
			InitialVars: func() map[string]string {
				return snapshotVars(si)
			},
		}
		eventPath := base + "/" + svc.ID + "/event"
		s.mux.Handle(eventPath, genaHandler)
	}
}

func snapshotVars(si *device.ServiceInstance) map[string]string {
	out := make(map[string]string, len(si.Variables))
	for name, v := range si.Variables {
		if cur := v.Current(); cur != nil {
			out[name] = fmt.Sprintf("%v", cur)
		}
	}
	return out
}

// NotifyChanged marks name on every registered ServiceInstance matching
// si as changed and flushes pending NOTIFYs to its subscribers. Callers
// (action Invoke implementations, watchers) call this after mutating a
// state-variable instance's value.
func (s *Server) NotifyChanged(si *device.ServiceInstance, name, value string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rs := range s.services {
		if rs.si == si {
			rs.notifier.MarkChanged(name, value)
			rs.notifier.FlushAll()
			return
		}
	}
}

// advertisements builds the SSDP NT/USN/LOCATION set for every mounted
// device instance, matching the lineage file's RegisterSSPD NTs
// assembly (spec.md §9).
func (s *Server) advertisements() []ssdp.Advertisement {
	var ads []ssdp.Advertisement
	for _, root := range s.roots {
		walkInstances(root, func(di *device.DeviceInstance) {
			loc := di.DescriptionURL()
			for _, nt := range di.NTList() {
				ads = append(ads, ssdp.Advertisement{
					NT:       nt,
					USN:      "uuid:" + di.UDN + "::" + nt,
					Location: loc,
				})
			}
		})
	}
	return ads
}

// Start wires the HTTP mux (device description + per-service control/
// event/SCPD handlers for every device RegisterDevice-ed so far) and
// begins listening. Start is idempotent: a second call is a no-op.
func (s *Server) Start() error {
	var startErr error
	s.startOnce.Do(func() {
		addr := s.host + ":" + s.port
		s.httpServer = &http.Server{Addr: addr, Handler: s.mux}

		ln, err := newListener(addr)
		if err != nil {
			startErr = fmt.Errorf("server: listen: %w", err)
			return
		}
		s.mu.Lock()
		s.started = true
		s.listener = ln
		s.mu.Unlock()

		go func() {
			if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.logger.Printf("server: http serve: %v", err)
			}
		}()
	})
	return startErr
}

// Run calls Start (if not already started) and additionally starts the
// SSDP responder, which begins sending ssdp:alive NOTIFYs and answering
// M-SEARCH for every mounted device instance.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.responder = ssdp.NewResponder(s.name, s.ssdpMaxAgeSeconds, s.advertisements(), s.logger)
	if err := s.responder.Start(); err != nil {
		return fmt.Errorf("server: ssdp start: %w", err)
	}
	s.running = true
	return nil
}

// Stop shuts down the SSDP responder and the HTTP listener with a
// bounded grace period, and is idempotent (spec.md §4.2, §5).
func (s *Server) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		responder := s.responder
		httpServer := s.httpServer
		s.mu.Unlock()

		if responder != nil {
			responder.Stop()
		}
		if httpServer == nil {
			return
		}

		shutdownCtx := ctx
		if shutdownCtx == nil {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(context.Background(), s.shutdownGrace)
			defer cancel()
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			stopErr = fmt.Errorf("server: http shutdown: %w", err)
		}
	})
	return stopErr
}

// BaseURL returns the absolute base URL this server advertises device
// description and control/event/SCPD URLs under.
func (s *Server) BaseURL() string {
	return s.baseURL
}

// Mux exposes the underlying router so the composition root can mount
// the Control-Point API alongside the device runtime on the same HTTP
// listener.
func (s *Server) Mux() *chi.Mux {
	return s.mux
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Addr returns the actual bound address of the HTTP listener, useful
// when Port was "0" for an ephemeral-port test listener. It is empty
// until Start has returned successfully.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Roots returns every device instance registered so far.
func (s *Server) Roots() []*device.DeviceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*device.DeviceInstance, len(s.roots))
	copy(out, s.roots)
	return out
}
