package http

import (
	"net/http"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/downloader"
	"github.com/Strob0t/TaskForge/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tasks     *service.TaskService
	Downloads downloader.Manager
	Version   string
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Running int    `json:"running"`
}

// Health reports liveness and the number of running tasks.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: h.Version,
		Running: len(h.Tasks.Running()),
	})
}

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CommandRequest](w, r)
	if !ok {
		return
	}
	run, err := h.Tasks.RunCommand(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not started")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// CreateChain handles POST /api/v1/chains
func (h *Handlers) CreateChain(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.ChainRequest](w, r)
	if !ok {
		return
	}
	run, err := h.Tasks.RunChain(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "chain not started")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// CreateDownload handles POST /api/v1/downloads
func (h *Handlers) CreateDownload(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.DownloadRequest](w, r)
	if !ok {
		return
	}
	run, err := h.Tasks.RunDownload(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "download not started")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// ListDownloads handles GET /api/v1/downloads
func (h *Handlers) ListDownloads(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Downloads.List())
}

// RunTool handles POST /api/v1/tools/{tool}
func (h *Handlers) RunTool(w http.ResponseWriter, r *http.Request) {
	params, ok := readRawJSON(w, r)
	if !ok {
		return
	}
	run, err := h.Tasks.RunTool(r.Context(), urlParam(r, "tool"), params)
	if err != nil {
		writeDomainError(w, err, "tool not found")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// ListTools handles GET /api/v1/tools
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, service.Tools())
}

// ListTasks handles GET /api/v1/tasks. ?status=running lists live tasks only.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("status") == string(task.StatusRunning) {
		writeJSON(w, http.StatusOK, h.Tasks.Running())
		return
	}
	runs, err := h.Tasks.List(r.Context(), queryInt(r, "limit", defaultListLimit, maxListLimit))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if runs == nil {
		runs = []task.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	run, err := h.Tasks.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// StopTask handles POST /api/v1/tasks/{id}/stop
func (h *Handlers) StopTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Tasks.Stop(r.Context(), id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "id": id})
}
