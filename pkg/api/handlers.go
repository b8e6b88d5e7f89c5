package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"lunchbadger/configstore/pkg/audit"
	"lunchbadger/configstore/pkg/store"
)

type producerInfo struct {
	ID   string            `json:"id"`
	Envs map[string]string `json:"envs"`
}

type envInfo struct {
	ID       string `json:"id"`
	Revision string `json:"revision"`
}

func (h *Handler) producerInfo(repo *store.Repository) (producerInfo, error) {
	envs, err := repo.Envs()
	if err != nil {
		return producerInfo{}, err
	}
	return producerInfo{ID: repo.Name(), Envs: envs}, nil
}

func (h *Handler) createProducer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		writeBadRequest(w, "body must carry a producer id")
		return
	}
	repo, err := h.manager.Create(body.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	info, err := h.producerInfo(repo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handler) listProducers(w http.ResponseWriter, r *http.Request) {
	repos, err := h.manager.List()
	if err != nil {
		h.writeError(w, err)
		return
	}
	infos := make([]producerInfo, 0, len(repos))
	for _, repo := range repos {
		info, err := h.producerInfo(repo)
		if err != nil {
			h.writeError(w, err)
			return
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) getProducer(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	info, err := h.producerInfo(repo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) producerExists(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"exists": h.manager.Exists(r.PathValue("id")),
	})
}

func (h *Handler) deleteProducer(w http.ResponseWriter, r *http.Request) {
	removed, err := h.manager.Remove(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	count := 0
	if removed {
		count = 1
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) getAccessKey(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	key, err := repo.AccessKey()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessKey": key})
}

func (h *Handler) regenerateAccessKey(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	key, err := repo.RegenerateAccessKey()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessKey": key})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditStore == nil {
		writeJSON(w, http.StatusOK, []audit.Entry{})
		return
	}
	id := r.PathValue("id")
	if !h.manager.Exists(id) {
		h.writeError(w, store.NewError(store.KindRepoDoesNotExist, "repo %s does not exist", id))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.auditStore.List(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) upsertEnv(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Revision string `json:"revision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Revision == "" {
		writeBadRequest(w, "body must carry a revision")
		return
	}
	envID := r.PathValue("envId")
	revision, err := repo.UpsertBranch(envBranch(envID), body.Revision)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envInfo{ID: envID, Revision: revision})
}

func (h *Handler) getEnv(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	envID := r.PathValue("envId")
	revision, err := repo.BranchRevision(envBranch(envID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envInfo{ID: envID, Revision: revision})
}

func (h *Handler) deleteEnv(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	count, err := repo.DeleteBranch(envBranch(r.PathValue("envId")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// updateFiles implements the transactional write endpoint. The If-Match
// header carries the caller's parent revision; the returned ETag is the
// branch revision after the transaction.
func (h *Handler) updateFiles(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "body must map file paths to content")
		return
	}

	files := make(map[string][]byte, len(body))
	for path, content := range body {
		data := []byte(content)
		if h.validator != nil {
			if err := h.validator.Validate(path, data); err != nil {
				h.writeError(w, err)
				h.collector.ObserveTransaction("error")
				return
			}
		}
		files[path] = data
	}

	parentRevision := etagValue(r.Header.Get("If-Match"))
	branch := envBranch(r.PathValue("envId"))

	revision, err := repo.UpdateBranchFiles(branch, parentRevision, files)
	if err != nil {
		h.collector.ObserveTransaction(transactionOutcome(err))
		h.writeError(w, err)
		return
	}

	if revision == parentRevision {
		h.collector.ObserveTransaction("noop")
	} else {
		h.collector.ObserveTransaction("commit")
		h.recordCommit(r, repo.Name(), branch, parentRevision, revision)
	}

	w.Header().Set("ETag", revision)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	repo, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	content, revision, err := repo.GetFile(envBranch(r.PathValue("envId")), r.PathValue("path"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("ETag", revision)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		h.logger.Debug("failed to write file response", "error", err)
	}
}

func (h *Handler) recordCommit(r *http.Request, repo, branch, before, after string) {
	if h.auditStore == nil {
		return
	}
	if before == "" {
		before = store.ZeroRevision
	}
	err := h.auditStore.Record(r.Context(), audit.Entry{
		Repo:   repo,
		Ref:    strings.TrimPrefix(branch, "refs/heads/"),
		Before: before,
		After:  after,
		Origin: audit.OriginREST,
	})
	h.collector.ObserveAuditWrite(err)
	if err != nil {
		h.logger.Warn("failed to audit commit", "repo", repo, "branch", branch, "error", err)
	}
}

// etagValue strips the quoting an HTTP client may put around an ETag.
func etagValue(header string) string {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "W/")
	return strings.Trim(header, `"`)
}

func transactionOutcome(err error) string {
	switch store.KindOf(err) {
	case store.KindOptimisticConcurrency:
		return "conflict"
	case store.KindLocked:
		return "locked"
	default:
		return "error"
	}
}
