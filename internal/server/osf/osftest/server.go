// Package osftest runs an in-process fake of the OSF endpoints the relay
// uses, for tests.
package osftest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
)

// APIPrefix is the path the fake serves the API under.
const APIPrefix = "/v2"

// CreatedNode records one successful create-node call.
type CreatedNode struct {
	Parent      string
	ID          string
	Title       string
	Category    string
	Description string
}

// Server is a fake OSF API. Configure fields before issuing requests; read
// the recorded calls through the accessor methods.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	// Token is the only accepted bearer token.
	Token string
	// NodeIDs are handed out by create in order; afterwards ids are node1, node2, ...
	NodeIDs []string
	// UploadLinkFormat is formatted with the node id.
	UploadLinkFormat string

	CreateStatus int
	FilesStatus  int
	DeleteStatus int
	// FilesFailures and DeleteFailures answer 503 that many times first.
	FilesFailures  int
	DeleteFailures int
	OmitFilesLink  bool
	EmptyFiles     bool
	EmptyUpload    bool
	// FilesLinkOverride replaces the files link returned by create.
	FilesLinkOverride string

	created    []CreatedNode
	deleted    []string
	filesCalls int
	seq        int
}

// NewServer starts a fake OSF accepting token. Close it when done.
func NewServer(token string) *Server {
	s := &Server{Token: token, UploadLinkFormat: "https://osf.io/upload/%s"}

	r := chi.NewRouter()
	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/nodes/{parent}/children/", s.createNode)
		r.Get("/nodes/{id}/files/", s.listFiles)
		r.Delete("/nodes/{id}/", s.deleteNode)
		r.Get("/users/me/", s.currentUser)
	})

	s.Server = httptest.NewServer(r)
	return s
}

// Configure mutates the fake's settings under its lock.
func (s *Server) Configure(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// BaseURL is the API root to configure the client with.
func (s *Server) BaseURL() string {
	return s.URL + APIPrefix
}

func (s *Server) Created() []CreatedNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreatedNode(nil), s.created...)
}

func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *Server) FilesCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filesCalls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]any{{"detail": detail}},
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.Token || s.Token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateStatus != 0 {
		writeError(w, s.CreateStatus, "create failed")
		return
	}

	var body struct {
		Data struct {
			Type       string `json:"type"`
			Attributes struct {
				Title       string `json:"title"`
				Category    string `json:"category"`
				Description string `json:"description"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Data.Type != "nodes" {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	var id string
	if s.seq < len(s.NodeIDs) {
		id = s.NodeIDs[s.seq]
	} else {
		id = fmt.Sprintf("node%d", s.seq+1)
	}
	s.seq++

	attrs := body.Data.Attributes
	s.created = append(s.created, CreatedNode{
		Parent:      chi.URLParam(r, "parent"),
		ID:          id,
		Title:       attrs.Title,
		Category:    attrs.Category,
		Description: attrs.Description,
	})

	data := map[string]any{
		"id":         id,
		"type":       "nodes",
		"attributes": map[string]any{"title": attrs.Title, "category": attrs.Category},
	}
	if !s.OmitFilesLink {
		filesLink := s.FilesLinkOverride
		if filesLink == "" {
			filesLink = s.BaseURL() + "/nodes/" + id + "/files/"
		}
		data["relationships"] = map[string]any{
			"files": map[string]any{
				"links": map[string]any{
					"related": map[string]any{"href": filesLink, "meta": map[string]any{}},
				},
			},
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": data})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filesCalls++
	if s.FilesFailures > 0 {
		s.FilesFailures--
		writeError(w, http.StatusServiceUnavailable, "try again")
		return
	}
	if s.FilesStatus != 0 {
		writeError(w, s.FilesStatus, "files failed")
		return
	}

	id := chi.URLParam(r, "id")
	items := []map[string]any{}
	if !s.EmptyFiles {
		upload := fmt.Sprintf(s.UploadLinkFormat, id)
		if s.EmptyUpload {
			upload = ""
		}
		items = append(items, map[string]any{
			"id":         id + ":osfstorage",
			"type":       "files",
			"attributes": map[string]any{"name": "osfstorage", "provider": "osfstorage"},
			"links":      map[string]any{"upload": upload},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteFailures > 0 {
		s.DeleteFailures--
		writeError(w, http.StatusServiceUnavailable, "try again")
		return
	}
	if s.DeleteStatus != 0 {
		writeError(w, s.DeleteStatus, "delete failed")
		return
	}
	s.deleted = append(s.deleted, chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":         "osfuser1",
			"type":       "users",
			"attributes": map[string]any{"full_name": "Test Researcher"},
		},
	})
}
