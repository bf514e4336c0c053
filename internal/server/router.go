package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/snapwatch/internal/backup"
	"github.com/loykin/snapwatch/internal/history"
	"github.com/loykin/snapwatch/internal/tracking"
)

// Service is what the router needs from the running daemon.
type Service interface {
	Entries() []tracking.Status
	AddEntry(e tracking.Entry) error
	RemoveEntry(process string) error
	Rename(oldName, newName string) error
	Backups(ctx context.Context, process string) ([]backup.Record, error)
	Backup(ctx context.Context, process string) (backup.Record, error)
	Delete(ctx context.Context, process, name string) error
	Restore(ctx context.Context, process, name string) (string, error)
	Processes(ctx context.Context) ([]string, error)
	History(ctx context.Context, process string, limit int) ([]history.Event, error)
}

// DefaultHistoryLimit is used when /history is called without limit.
const DefaultHistoryLimit = 50

// Router provides embeddable HTTP handlers for tracked entries and backups.
// Endpoints:
//
//	GET    {basePath}/entries
//	POST   {basePath}/entries         body: {"process": "...", "source": "...", "destination": "..."}
//	DELETE {basePath}/entries         query: process=...
//	POST   {basePath}/entries/rename  body: {"old": "...", "new": "..."}
//	GET    {basePath}/backups         query: process=...
//	POST   {basePath}/backups         query: process=...
//	DELETE {basePath}/backups         query: process=...&name=...
//	POST   {basePath}/restore         query: process=...&name=... (name optional, latest when empty)
//	GET    {basePath}/processes
//	GET    {basePath}/history         query: process=...&limit=50 (both optional)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	svc      Service
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(svc Service, basePath string) *Router {
	return &Router{svc: svc, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/entries", r.handleEntries)
	group.POST("/entries", r.handleAddEntry)
	group.DELETE("/entries", r.handleRemoveEntry)
	group.POST("/entries/rename", r.handleRename)
	group.GET("/backups", r.handleListBackups)
	group.POST("/backups", r.handleCreateBackup)
	group.DELETE("/backups", r.handleDeleteBackup)
	group.POST("/restore", r.handleRestore)
	group.GET("/processes", r.handleProcesses)
	group.GET("/history", r.handleHistory)
	return g
}

// NewServer builds an HTTP server on addr using this router. The caller
// runs ListenAndServe and shuts it down.
func NewServer(addr, basePath string, svc Service) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(svc, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// restores of large trees can take a while
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type renameReq struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// RestoreResp is returned by POST /restore.
type RestoreResp struct {
	Process string `json:"process"`
	Backup  string `json:"backup"`
}

func (r *Router) handleEntries(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.svc.Entries())
}

func (r *Router) handleAddEntry(c *gin.Context) {
	var e tracking.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	e.Running = false
	if err := r.svc.AddEntry(e); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, e)
}

func (r *Router) handleRemoveEntry(c *gin.Context) {
	process, ok := processParam(c)
	if !ok {
		return
	}
	if err := r.svc.RemoveEntry(process); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRename(c *gin.Context) {
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Old == "" || req.New == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "old and new are required"})
		return
	}
	if err := r.svc.Rename(req.Old, req.New); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// processParam reads the required process query parameter.
func processParam(c *gin.Context) (string, bool) {
	p := c.Query("process")
	if p == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "process query param required"})
		return "", false
	}
	return p, true
}

func (r *Router) handleListBackups(c *gin.Context) {
	process, ok := processParam(c)
	if !ok {
		return
	}
	recs, err := r.svc.Backups(c.Request.Context(), process)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleCreateBackup(c *gin.Context) {
	process, ok := processParam(c)
	if !ok {
		return
	}
	rec, err := r.svc.Backup(c.Request.Context(), process)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, rec)
}

func (r *Router) handleDeleteBackup(c *gin.Context) {
	process, ok := processParam(c)
	if !ok {
		return
	}
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	if err := r.svc.Delete(c.Request.Context(), process, name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestore(c *gin.Context) {
	process, ok := processParam(c)
	if !ok {
		return
	}
	name := c.Query("name")
	if name != "" && !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	used, err := r.svc.Restore(c.Request.Context(), process, name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, RestoreResp{Process: process, Backup: used})
}

func (r *Router) handleProcesses(c *gin.Context) {
	names, err := r.svc.Processes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, names)
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := DefaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	evs, err := r.svc.History(c.Request.Context(), c.Query("process"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, evs)
}
