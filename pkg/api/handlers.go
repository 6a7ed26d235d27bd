package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/boolearner/boolearner/pkg/engine"
	"github.com/boolearner/boolearner/pkg/policy"
)

const maxBodyBytes = 1 << 20

// CompletedRequest is the body of PATCH /api/resources/{id}/completed.
type CompletedRequest struct {
	Completed *bool `json:"completed" validate:"required"`
}

// DeleteResponse lists every resource a delete removed, the target first.
type DeleteResponse struct {
	Deleted []string `json:"deleted"`
	Count   int      `json:"count"`
}

// LevelResponse is one learning tier.
type LevelResponse struct {
	Level     int               `json:"level"`
	Resources []engine.Resource `json:"resources"`
}

// createResource handles POST /api/resources
func (rt *Router) createResource(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateRequest
	if !rt.decodeAndValidate(w, r, &req) {
		return
	}

	created, err := rt.coordinator.Create(r.Context(), req)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	rt.respondJSON(w, http.StatusCreated, created)
}

// listResources handles GET /api/resources. With ?q= it searches instead.
func (rt *Router) listResources(w http.ResponseWriter, r *http.Request) {
	var (
		resources []engine.Resource
		err       error
	)

	if q := r.URL.Query().Get("q"); q != "" {
		resources, err = rt.coordinator.Search(r.Context(), q)
	} else {
		resources, err = rt.coordinator.List(r.Context())
	}
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	rt.respondJSON(w, http.StatusOK, nonNil(resources))
}

// searchResources handles GET /api/resources/search?q=
func (rt *Router) searchResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		rt.respondError(w, r, engine.NewPermanentError("query parameter q is required", nil).
			WithCode(engine.ErrCodeValidation).
			WithDetail("field", "q"))
		return
	}

	resources, err := rt.coordinator.Search(r.Context(), q)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	rt.respondJSON(w, http.StatusOK, nonNil(resources))
}

// resourceLevels handles GET /api/resources/levels
func (rt *Router) resourceLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := rt.coordinator.Levels(r.Context())
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	resp := make([]LevelResponse, len(levels))
	for i, level := range levels {
		resp[i] = LevelResponse{Level: i, Resources: level}
	}
	rt.respondJSON(w, http.StatusOK, resp)
}

// resourceGraph handles GET /api/resources/graph and renders Graphviz DOT.
func (rt *Router) resourceGraph(w http.ResponseWriter, r *http.Request) {
	resources, err := rt.coordinator.List(r.Context())
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	dot, err := engine.ToDOT(resources)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, dot)
}

// getResource handles GET /api/resources/{id}
func (rt *Router) getResource(w http.ResponseWriter, r *http.Request) {
	resource, err := rt.coordinator.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	rt.respondJSON(w, http.StatusOK, resource)
}

// updateResource handles PUT /api/resources/{id}
func (rt *Router) updateResource(w http.ResponseWriter, r *http.Request) {
	var req engine.UpdateRequest
	if !rt.decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := rt.coordinator.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	rt.respondJSON(w, http.StatusOK, updated)
}

// setCompleted handles PATCH /api/resources/{id}/completed
func (rt *Router) setCompleted(w http.ResponseWriter, r *http.Request) {
	var req CompletedRequest
	if !rt.decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := rt.coordinator.SetCompleted(r.Context(), chi.URLParam(r, "id"), *req.Completed)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	rt.respondJSON(w, http.StatusOK, updated)
}

// deleteResource handles DELETE /api/resources/{id}?cascade=true
func (rt *Router) deleteResource(w http.ResponseWriter, r *http.Request) {
	cascade := false
	if v := r.URL.Query().Get("cascade"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			rt.respondError(w, r, badRequest("cascade must be true or false", err))
			return
		}
		cascade = parsed
	}

	removed, err := rt.coordinator.Delete(r.Context(), chi.URLParam(r, "id"), cascade)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}

	rt.respondJSON(w, http.StatusOK, DeleteResponse{Deleted: removed, Count: len(removed)})
}

// listPolicies handles GET /api/policies
func (rt *Router) listPolicies(w http.ResponseWriter, _ *http.Request) {
	policies := []policy.Policy{}
	if rt.policies != nil {
		policies = rt.policies.ListPolicies()
	}
	rt.respondJSON(w, http.StatusOK, policies)
}

// decodeAndValidate reads a JSON body into v and checks its struct tags. It
// writes the error response itself and reports whether the handler may go on.
func (rt *Router) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			rt.respondError(w, r, badRequest("request body is required", nil))
		} else {
			rt.respondError(w, r, badRequest("invalid request body", err))
		}
		return false
	}

	if err := rt.validate.Struct(v); err != nil {
		rt.respondError(w, r, validationFailed(err))
		return false
	}
	return true
}

func nonNil(resources []engine.Resource) []engine.Resource {
	if resources == nil {
		return []engine.Resource{}
	}
	return resources
}
