package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

const multipartMemory = 32 << 20

func (rt *Router) ingestAsset(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		// Leave room for the multipart envelope and form fields.
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes+(1<<20))
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			rt.writeDomainError(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "multipart form is required")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	metadata, err := parseJSONField(r.FormValue("metadata"), "metadata")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	tags, err := parseJSONField(r.FormValue("operational_tags"), "operational_tags")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	source := domain.SourceUserUpload
	if strings.TrimSpace(r.FormValue("source")) == string(domain.SourceAPISubmission) {
		source = domain.SourceAPISubmission
	}

	result, err := rt.svc.Ingest.Ingest(r.Context(), domain.IngestRequest{
		Filename:        header.Filename,
		Body:            file,
		Metadata:        metadata,
		OperationalTags: tags,
		SourceSystem:    source,
	})
	if err != nil {
		rt.observer.RecordIngest(string(source), "error")
		rt.writeDomainError(w, r, err)
		return
	}

	if result.Duplicate {
		rt.observer.RecordIngest(string(source), "duplicate")
		writeJSON(w, http.StatusOK, result)
		return
	}
	rt.observer.RecordIngest(string(source), "created")
	w.Header().Set("Location", "/v1/assets/"+result.AssetID)
	writeJSON(w, http.StatusAccepted, result)
}

func parseJSONField(raw, name string) (domain.Metadata, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	md, err := domain.ParseMetadata([]byte(raw))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse "+name, err)
	}
	return md, nil
}

func (rt *Router) getAsset(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	asset, err := rt.svc.Assets.GetAsset(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("ETag", quoteETag(asset.CurrentVersionID))
	writeJSON(w, http.StatusOK, asset)
}

func (rt *Router) getMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	view, err := rt.svc.Metadata.GetMetadata(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("ETag", quoteETag(view.VersionID))
	writeJSON(w, http.StatusOK, view)
}

type metadataRequest struct {
	Metadata  domain.Metadata `json:"metadata"`
	VersionID string          `json:"version_id"`
}

func (rt *Router) updateMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	var req metadataRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	ref, err := rt.svc.Metadata.UpdateMetadata(r.Context(), id, versionToken(r, req.VersionID), req.Metadata)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("ETag", quoteETag(ref.VersionID))
	writeJSON(w, http.StatusOK, ref)
}

func (rt *Router) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	var req metadataRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	ref, err := rt.svc.Metadata.ResolveConflict(r.Context(), id, req.Metadata)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("ETag", quoteETag(ref.VersionID))
	writeJSON(w, http.StatusOK, ref)
}

func (rt *Router) listVersions(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	versions, err := rt.svc.Rollback.ListVersions(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "versions": versions})
}

func (rt *Router) getVersion(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	version, err := bindPathInt(r, "version")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	snapshot, err := rt.svc.Rollback.GetVersion(r.Context(), id, version)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (rt *Router) rollbackAsset(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	var req struct {
		TargetVersion int `json:"target_version"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	ref, err := rt.svc.Rollback.Rollback(r.Context(), id, req.TargetVersion)
	rt.observer.RecordRollback(err)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("ETag", quoteETag(ref.VersionID))
	writeJSON(w, http.StatusOK, ref)
}

func (rt *Router) reprocessAsset(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	job, err := rt.svc.Jobs.Reprocess(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) getLatestJob(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	job, err := rt.svc.Jobs.GetLatestJobForAsset(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) listAssetActions(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	limit, err := bindQueryInt(r, "limit")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	entries, err := rt.svc.Audit.ListActionsForAsset(r.Context(), id, limit)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "actions": entries})
}

// decodeJSONBody rejects unknown fields; an empty body decodes to the zero value.
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.WrapError(domain.ErrInvalidInput, "decode body", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func quoteETag(versionID string) string {
	return `"` + versionID + `"`
}
