// Package httpapi exposes the collector's state as a JSON API plus a
// websocket stream of completed runs.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meshtools/meshwatch/internal/aredn"
	"github.com/meshtools/meshwatch/internal/model"
	"github.com/meshtools/meshwatch/internal/storage"
)

// Refresher triggers an immediate collection run.
type Refresher interface {
	TriggerRefresh()
}

type API struct {
	repo     *storage.Repository
	poller   Refresher
	versions aredn.VersionChecker
	hub      *Hub
	logger   *slog.Logger
	started  time.Time
}

func New(repo *storage.Repository, p Refresher, versions aredn.VersionChecker, hub *Hub, logger *slog.Logger) *API {
	return &API{
		repo:     repo,
		poller:   p,
		versions: versions,
		hub:      hub,
		logger:   logger,
		started:  time.Now().UTC(),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverJSON)
	r.Use(requestLogger(a.logger))

	r.Get("/healthz", a.health)
	r.Route("/api", func(api chi.Router) {
		api.Get("/network", a.network)
		api.Get("/nodes", a.listNodes)
		api.Get("/nodes/{id}", a.getNode)
		api.Get("/links", a.listLinks)
		api.Get("/runs", a.listRuns)
		api.Post("/refresh", a.refresh)
		api.Get("/events", a.hub.ServeHTTP)
	})
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(a.started).Seconds()),
	})
}

// nodeView is a node decorated with firmware/API currency for consumers.
type nodeView struct {
	model.Node
	FirmwareCurrency int `json:"firmware_currency"`
	APICurrency      int `json:"api_currency"`
}

func (a *API) decorate(node model.Node) nodeView {
	return nodeView{
		Node:             node,
		FirmwareCurrency: a.versions.Firmware(node.FirmwareVersion),
		APICurrency:      a.versions.API(node.APIVersion),
	}
}

func (a *API) network(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.repo.ListNodes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	links, err := a.repo.ListLinks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	active := 0
	for _, node := range nodes {
		if node.Status.Active() {
			active++
		}
	}
	views := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, a.decorate(node))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":        views,
		"links":        links,
		"node_count":   len(nodes),
		"active_count": active,
		"link_count":   len(links),
	})
}

func (a *API) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.repo.ListNodes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	status := model.Status(r.URL.Query().Get("status"))
	views := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		if status != "" && node.Status != status {
			continue
		}
		views = append(views, a.decorate(node))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *API) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := a.repo.GetNode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.decorate(node))
}

func (a *API) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := a.repo.ListLinks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	status := model.Status(r.URL.Query().Get("status"))
	if status != "" {
		filtered := links[:0]
		for _, link := range links {
			if link.Status == status {
				filtered = append(filtered, link)
			}
		}
		links = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": links})
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = value
	}
	runs, err := a.repo.ListPollRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

func (a *API) refresh(w http.ResponseWriter, _ *http.Request) {
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func RunServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "err", err)
			return err
		}
		return nil
	}
}
