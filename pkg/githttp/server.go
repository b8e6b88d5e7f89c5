// Package githttp serves the smart-HTTP Git protocol for tenant
// repositories by piping client bytes through the git-upload-pack and
// git-receive-pack helpers, and turns receive-pack reports into push
// events.
package githttp

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"lunchbadger/configstore/pkg/audit"
	"lunchbadger/configstore/pkg/events"
	"lunchbadger/configstore/pkg/store"
	"lunchbadger/configstore/pkg/telemetry/metrics"
)

const (
	serviceUploadPack  = "git-upload-pack"
	serviceReceivePack = "git-receive-pack"
)

// Handler serves /{repo}/info/refs and /{repo}/{service} under the mount
// path chosen by the host.
type Handler struct {
	manager               *store.Manager
	bus                   *events.Bus
	auditStore            *audit.Store
	collector             *metrics.Collector
	authOnPrivateNetworks bool
	gitBinary             string
	logger                *slog.Logger
	mux                   *http.ServeMux
}

// Options configures optional Handler collaborators.
type Options struct {
	// AuthOnPrivateNetworks requires Basic credentials even for private
	// source addresses.
	AuthOnPrivateNetworks bool

	// Audit receives one entry per pushed ref update. Nil disables.
	Audit *audit.Store

	// Collector records helper process and push metrics. Nil disables.
	Collector *metrics.Collector

	// GitBinary overrides the git executable. Default "git".
	GitBinary string
}

// NewHandler creates the smart-HTTP handler.
func NewHandler(manager *store.Manager, bus *events.Bus, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GitBinary == "" {
		opts.GitBinary = "git"
	}
	h := &Handler{
		manager:               manager,
		bus:                   bus,
		auditStore:            opts.Audit,
		collector:             opts.Collector,
		authOnPrivateNetworks: opts.AuthOnPrivateNetworks,
		gitBinary:             opts.GitBinary,
		logger:                logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{repo}/info/refs", h.infoRefs)
	mux.HandleFunc("POST /{repo}/{service}", h.service)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// repoName maps the {repo} path segment to a repository name. Git
// clients address repositories with the .git suffix; both spellings are
// accepted.
func repoName(segment string) string {
	return strings.TrimSuffix(segment, ".git")
}

func validService(svc string) bool {
	return svc == serviceUploadPack || svc == serviceReceivePack
}

// helperArgs maps a service name to the git subcommand invocation.
func (h *Handler) helperArgs(svc, repoPath string, advertise bool) []string {
	args := []string{strings.TrimPrefix(svc, "git-"), "--stateless-rpc"}
	if advertise {
		args = append(args, "--advertise-refs")
	}
	return append(args, repoPath)
}

// infoRefs implements GET /{repo}/info/refs?service={svc}: the ref
// advertisement that opens every fetch and push.
func (h *Handler) infoRefs(w http.ResponseWriter, r *http.Request) {
	svc := r.URL.Query().Get("service")
	if svc == "" {
		http.Error(w, "dumb protocol not supported", http.StatusBadRequest)
		return
	}
	if !validService(svc) {
		http.Error(w, fmt.Sprintf("unknown service %s", svc), http.StatusBadRequest)
		return
	}

	repo, err := h.manager.Get(repoName(r.PathValue("repo")))
	if err != nil {
		http.Error(w, "repository not found", http.StatusNotFound)
		return
	}
	if h.authenticate(w, r, repo) == "" {
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-advertisement", svc))
	setNoCache(w.Header())

	fw := &flushWriter{w: w}
	io.WriteString(fw, pktLine(fmt.Sprintf("# service=%s\n", svc)))
	io.WriteString(fw, flushPkt)

	h.runHelper(r.Context(), svc, repo, nil, fw, false)
}

// service implements POST /{repo}/{service}: the stateful half of the
// protocol exchange.
func (h *Handler) service(w http.ResponseWriter, r *http.Request) {
	svc := r.PathValue("service")
	if !validService(svc) {
		http.Error(w, fmt.Sprintf("unknown service %s", svc), http.StatusBadRequest)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != fmt.Sprintf("application/x-%s-request", svc) {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	repo, err := h.manager.Get(repoName(r.PathValue("repo")))
	if err != nil {
		http.Error(w, "repository not found", http.StatusNotFound)
		return
	}
	if h.authenticate(w, r, repo) == "" {
		return
	}

	body := io.Reader(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "malformed gzip body", http.StatusBadRequest)
			return
		}
		defer gz.Close()
		body = gz
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-result", svc))
	setNoCache(w.Header())

	var parser *reportParser
	var out io.Writer = &flushWriter{w: w}
	if svc == serviceReceivePack {
		parser = &reportParser{}
		out = io.MultiWriter(out, parser)
	}

	ok := h.runHelper(r.Context(), svc, repo, body, out, true)
	if parser == nil || !ok {
		return
	}

	changes := parser.Changes()
	if len(changes) == 0 {
		return
	}
	h.bus.Publish(events.PushEvent{Repo: repo.Name(), Changes: changes})
	h.collector.ObservePushEvent(len(changes))
	h.recordPush(r.Context(), repo.Name(), changes)
}

// runHelper spawns the git helper and pipes stdin/stdout through it.
// The response is already streaming when the child exits, so a failure
// is logged and reported to metrics rather than to the client.
func (h *Handler) runHelper(ctx context.Context, svc string, repo *store.Repository, stdin io.Reader, stdout io.Writer, useStdin bool) bool {
	args := h.helperArgs(svc, repo.Path(), !useStdin)
	cmd := exec.CommandContext(ctx, h.gitBinary, args...)
	if useStdin {
		cmd.Stdin = stdin
	}
	cmd.Stdout = stdout
	var stderr strings.Builder
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	h.collector.ObserveGitService(svc, err == nil, time.Since(start))
	if err != nil {
		h.logger.Error("git helper failed",
			"service", svc,
			"repo", repo.Name(),
			"error", err,
			"stderr", strings.TrimSpace(stderr.String()),
		)
		return false
	}
	return true
}

func (h *Handler) recordPush(ctx context.Context, repo string, changes []events.Change) {
	if h.auditStore == nil {
		return
	}
	for _, ch := range changes {
		err := h.auditStore.Record(ctx, audit.Entry{
			Repo:   repo,
			Ref:    ch.Ref,
			Before: ch.Before,
			After:  ch.After,
			Origin: audit.OriginPush,
		})
		h.collector.ObserveAuditWrite(err)
		if err != nil {
			h.logger.Warn("failed to audit push", "repo", repo, "ref", ch.Ref, "error", err)
		}
	}
}

func setNoCache(header http.Header) {
	header.Set("Expires", "Fri, 01 Jan 1980 00:00:00 GMT")
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache, max-age=0, must-revalidate")
}

// flushWriter flushes the response after every write so protocol bytes
// reach the Git client as the helper produces them instead of sitting in
// the server's buffer.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
