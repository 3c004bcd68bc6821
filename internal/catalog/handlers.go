// Package catalog implements the model upload/deploy surface: a thin
// HTTP CRUD layer over the metadata store and blob store. The inference
// path never imports this package; it owns the write side of the catalog
// that the resolver and session cache only read.
package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/oriys/infer/internal/blobstore"
	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/logging"
	"github.com/oriys/infer/internal/metastore"
)

// Handler serves the catalog collaborator's routes.
type Handler struct {
	Store metastore.CatalogStore
	Blobs blobstore.CatalogStore
}

// RegisterRoutes wires every route this collaborator owns onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /models", h.ListModels)
	mux.HandleFunc("GET /models/{name}", h.ListVersions)
	mux.HandleFunc("POST /models/{name}", h.Upload)
	mux.HandleFunc("POST /models/{name}/{version}/deploy", h.Deploy)
	mux.HandleFunc("POST /models/{name}/{version}/undeploy", h.Undeploy)
	mux.HandleFunc("DELETE /models/{name}/{version}", h.Delete)
}

type modelRecordView struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
	FileID  string `json:"file_id"`
	Status  string `json:"status"`
}

func toView(r domain.ModelRecord) modelRecordView {
	return modelRecordView{Name: r.Name, Version: r.Version, FileID: r.FileID.String(), Status: string(r.Status)}
}

// ListModels handles GET /models, returning every record across every name.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRecords(w, records)
}

// ListVersions handles GET /models/{name}, returning every version of name.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	records, err := h.Store.FindAllByName(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRecords(w, records)
}

func writeRecords(w http.ResponseWriter, records []domain.ModelRecord) {
	views := make([]modelRecordView, 0, len(records))
	for _, r := range records {
		views = append(views, toView(r))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// Upload handles POST /models/{name}, streaming the request body straight
// into the blob store before recording a new Uploaded version.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	fileID, err := h.Blobs.Upload(r.Context(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rec, err := h.Store.InsertOne(r.Context(), name, fileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toView(rec))
}

// Deploy handles POST /models/{name}/{version}/deploy, marking a single
// version Deployed. It does not clear any sibling version's Deployed
// status — the same open permissiveness the underlying store exposes.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.StatusDeployed)
}

// Undeploy handles POST /models/{name}/{version}/undeploy, reverting a
// version back to Uploaded.
func (h *Handler) Undeploy(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.StatusUploaded)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status domain.ModelStatus) {
	name := r.PathValue("name")
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		http.Error(w, "version must be an integer", http.StatusBadRequest)
		return
	}

	if err := h.Store.UpdateOne(r.Context(), name, version, status); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"name": name, "version": version, "status": string(status)})
}

// Delete handles DELETE /models/{name}/{version}, removing both the
// metadata record and its backing blob. The blob is removed only after
// the record delete succeeds, so a failed delete never orphans metadata
// pointing at nothing.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		http.Error(w, "version must be an integer", http.StatusBadRequest)
		return
	}

	records, err := h.Store.FindAllByName(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var fileID domain.BlobID
	found := false
	for _, rec := range records {
		if rec.Version == version {
			fileID, found = rec.FileID, true
			break
		}
	}
	if !found {
		http.Error(w, "model not found", http.StatusNotFound)
		return
	}

	if err := h.Store.DeleteOne(r.Context(), name, version); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if err := h.Blobs.Delete(r.Context(), fileID); err != nil {
		logging.Op().Error("orphaned blob after metadata delete", "name", name, "version", version, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "deleted", "name": name, "version": version})
}
