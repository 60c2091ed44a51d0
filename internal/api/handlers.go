package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lthms/hierprops/internal/engine"
	"github.com/lthms/hierprops/internal/hierarchy"
)

// TargetRequest is the body of attach and move requests.
type TargetRequest struct {
	Target string `json:"target"`
}

// AssignRequest is the body of PUT /api/nodes/{id}/assignments.
type AssignRequest struct {
	Entity   string             `json:"entity"`
	Property string             `json:"property"`
	Metadata hierarchy.Metadata `json:"metadata,omitempty"`
}

// NodeResponse describes a node with its own and materialized data.
type NodeResponse struct {
	*hierarchy.Node
	Assignments  []hierarchy.Assignment `json:"assignments"`
	Materialized []hierarchy.Entry      `json:"materialized"`
}

// VerifyResponse reports the consistency of the forest.
type VerifyResponse struct {
	Consistent bool             `json:"consistent"`
	Problems   []engine.Problem `json:"problems"`
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "forest": s.engine.Name()})
}

// CreateRoot handles POST /api/roots
func (s *Server) CreateRoot(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.CreateHierarchyItem(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// ListRoots handles GET /api/roots
func (s *Server) ListRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := s.engine.Roots(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if roots == nil {
		roots = []*hierarchy.Node{}
	}
	writeJSON(w, http.StatusOK, roots)
}

// CreateChild handles POST /api/nodes/{id}/children
func (s *Server) CreateChild(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.CreateChild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// GetNode handles GET /api/nodes/{id}
func (s *Server) GetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	n, err := s.engine.Node(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	as, err := s.engine.Assignments(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	es, err := s.engine.Materialized(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if as == nil {
		as = []hierarchy.Assignment{}
	}
	if es == nil {
		es = []hierarchy.Entry{}
	}
	writeJSON(w, http.StatusOK, NodeResponse{Node: n, Assignments: as, Materialized: es})
}

// GetRoot handles GET /api/nodes/{id}/root
func (s *Server) GetRoot(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.GetRoot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// GetTree handles GET /api/nodes/{id}/tree
func (s *Server) GetTree(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.Tree(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RemoveNode handles DELETE /api/nodes/{id}
// With ?subtree=true every descendant is removed as well; otherwise children
// are promoted to the removed node's parent.
func (s *Server) RemoveNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var err error
	if r.URL.Query().Get("subtree") == "true" {
		err = s.engine.RemoveSubTree(r.Context(), id)
	} else {
		err = s.engine.RemoveNode(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Detach handles POST /api/nodes/{id}/detach
func (s *Server) Detach(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Detach(r.Context(), chi.URLParam(r, "id"), true); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttachTo handles POST /api/nodes/{id}/attach
func (s *Server) AttachTo(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.AttachTo(r.Context(), chi.URLParam(r, "id"), req.Target); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveTo handles POST /api/nodes/{id}/move
func (s *Server) MoveTo(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.MoveTo(r.Context(), chi.URLParam(r, "id"), req.Target); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Repair handles POST /api/nodes/{id}/repair
func (s *Server) Repair(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Repair(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddProperty handles PUT /api/nodes/{id}/assignments
func (s *Server) AddProperty(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.engine.AddPropertyForEntity(r.Context(), id, req.Entity, req.Property, req.Metadata); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hierarchy.Assignment{
		Key:      hierarchy.Key{NodeID: id, Entity: req.Entity, Property: req.Property},
		Metadata: req.Metadata,
	})
}

// RemoveProperty handles DELETE /api/nodes/{id}/assignments/{entity}/{property}
func (s *Server) RemoveProperty(w http.ResponseWriter, r *http.Request) {
	err := s.engine.RemovePropertyForEntity(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "entity"), chi.URLParam(r, "property"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PropertiesForEntity handles GET /api/nodes/{id}/entities/{entity}/properties
// With ?own=true only assignments stated at the node are listed.
func (s *Server) PropertiesForEntity(w http.ResponseWriter, r *http.Request) {
	id, entity := chi.URLParam(r, "id"), chi.URLParam(r, "entity")
	if r.URL.Query().Get("own") == "true" {
		props, err := s.engine.OwnPropertiesForEntity(r.Context(), id, entity)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, props)
		return
	}
	props, err := s.engine.GetPropertiesForEntity(r.Context(), id, entity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

// EntitiesWithProperty handles GET /api/nodes/{id}/properties/{property}/entities
// With ?own=true only assignments stated at the node are listed.
func (s *Server) EntitiesWithProperty(w http.ResponseWriter, r *http.Request) {
	id, property := chi.URLParam(r, "id"), chi.URLParam(r, "property")
	if r.URL.Query().Get("own") == "true" {
		ents, err := s.engine.OwnEntitiesWithProperty(r.Context(), id, property)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ents)
		return
	}
	ents, err := s.engine.GetEntitiesWithProperty(r.Context(), id, property)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ents)
}

// GetForest handles GET /api/forest
func (s *Server) GetForest(w http.ResponseWriter, r *http.Request) {
	forest, err := s.engine.Forest(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forest)
}

// Verify handles GET /api/verify
func (s *Server) Verify(w http.ResponseWriter, r *http.Request) {
	problems, err := s.engine.Verify(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if problems == nil {
		problems = []engine.Problem{}
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Consistent: len(problems) == 0, Problems: problems})
}
