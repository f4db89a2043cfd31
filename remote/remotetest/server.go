// ABOUTME: In-memory fake of the content API for tests
// ABOUTME: Serves paginated contacts and platform users with injectable faults
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Contact is a stored contact row.
type Contact struct {
	ID         int    `json:"id"`
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Source     string `json:"source,omitempty"`
	Owner      string `json:"owner,omitempty"`
}

// PlatformUser is a stored platform user row.
type PlatformUser struct {
	ID          int    `json:"id"`
	DocumentID  string `json:"documentId"`
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName,omitempty"`
}

// Server is a fake content API. Hooks may return a non-zero status to
// short-circuit a request; they run without the server lock held.
type Server struct {
	*httptest.Server

	Token string

	// CreateHook is called with the 1-based create call number.
	CreateHook func(call int, phone string) int
	// DeleteHook is called with the path identifier.
	DeleteHook func(id string) int
	// ListHook is called with the collection name and requested page.
	ListHook func(collection string, page int) int

	mu            sync.Mutex
	nextID        int
	contacts      map[int]*Contact
	platformUsers []PlatformUser

	createCalls atomic.Int64
	deleteCalls atomic.Int64
	listCalls   atomic.Int64
}

// NewServer starts a fake API. Close it with t.Cleanup(srv.Close).
func NewServer() *Server {
	s := &Server{
		nextID:   1,
		contacts: map[int]*Contact{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/contacts", s.handleContacts)
	mux.HandleFunc("/api/contacts/", s.handleContactItem)
	mux.HandleFunc("/api/platform-users", s.handlePlatformUsers)
	s.Server = httptest.NewServer(s.authorize(mux))
	return s
}

// AddContact seeds a contact and returns it.
func (s *Server) AddContact(owner, name, phone string) Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(Contact{Name: name, Phone: phone, Owner: owner})
}

// AddPlatformUser seeds a registered platform user.
func (s *Server) AddPlatformUser(displayName, phone string) PlatformUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	u := PlatformUser{ID: id, DocumentID: documentID(id), Phone: phone, DisplayName: displayName}
	s.platformUsers = append(s.platformUsers, u)
	return u
}

// Contacts returns the stored contacts ordered by id.
func (s *Server) Contacts() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) CreateCalls() int { return int(s.createCalls.Load()) }
func (s *Server) DeleteCalls() int { return int(s.deleteCalls.Load()) }
func (s *Server) ListCalls() int   { return int(s.listCalls.Load()) }

// TotalCalls counts every API request served.
func (s *Server) TotalCalls() int {
	return s.CreateCalls() + s.DeleteCalls() + s.ListCalls()
}

func (s *Server) insertLocked(c Contact) Contact {
	c.ID = s.nextID
	c.DocumentID = documentID(c.ID)
	s.nextID++
	stored := c
	s.contacts[c.ID] = &stored
	return c
}

func documentID(id int) string {
	return fmt.Sprintf("doc%06d", id)
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "UnauthorizedError", "missing or invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listCalls.Add(1)
		page, pageSize := pagination(r)
		if s.ListHook != nil {
			if status := s.ListHook("contacts", page); status != 0 {
				writeError(w, status, "ApplicationError", "injected list failure")
				return
			}
		}
		owner := r.URL.Query().Get("filters[owner][$eq]")
		all := s.Contacts()
		filtered := all[:0]
		for _, c := range all {
			if owner == "" || c.Owner == owner {
				filtered = append(filtered, c)
			}
		}
		writePage(w, filtered, page, pageSize)
	case http.MethodPost:
		call := int(s.createCalls.Add(1))
		var body struct {
			Data Contact `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "ValidationError", "invalid body")
			return
		}
		if s.CreateHook != nil {
			if status := s.CreateHook(call, body.Data.Phone); status != 0 {
				writeError(w, status, "ApplicationError", "injected create failure")
				return
			}
		}
		s.mu.Lock()
		for _, c := range s.contacts {
			if c.Phone == body.Data.Phone && c.Owner == body.Data.Owner {
				existing := *c
				s.mu.Unlock()
				writeJSON(w, http.StatusConflict, map[string]any{
					"data":  existing,
					"error": map[string]any{"status": http.StatusConflict, "name": "ConflictError", "message": "phone already exists"},
				})
				return
			}
		}
		created := s.insertLocked(body.Data)
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{"data": created})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleContactItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.deleteCalls.Add(1)
	id := strings.TrimPrefix(r.URL.Path, "/api/contacts/")
	if s.DeleteHook != nil {
		if status := s.DeleteHook(id); status != 0 {
			writeError(w, status, "ValidationError", "injected delete failure")
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.contacts {
		if strconv.Itoa(c.ID) == id || c.DocumentID == id {
			delete(s.contacts, key)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NotFoundError", "contact not found")
}

func (s *Server) handlePlatformUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.listCalls.Add(1)
	page, pageSize := pagination(r)
	if s.ListHook != nil {
		if status := s.ListHook("platform-users", page); status != 0 {
			writeError(w, status, "ApplicationError", "injected list failure")
			return
		}
	}
	s.mu.Lock()
	users := append([]PlatformUser(nil), s.platformUsers...)
	s.mu.Unlock()
	writePage(w, users, page, pageSize)
}

func pagination(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("pagination[page]"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pagination[pageSize]"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 25
	}
	return page, pageSize
}

func writePage[T any](w http.ResponseWriter, all []T, page, pageSize int) {
	total := len(all)
	pageCount := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": all[start:end],
		"meta": map[string]any{
			"pagination": map[string]int{
				"page":      page,
				"pageSize":  pageSize,
				"pageCount": pageCount,
				"total":     total,
			},
		},
	})
}

func writeError(w http.ResponseWriter, status int, name, message string) {
	writeJSON(w, status, map[string]any{
		"data":  nil,
		"error": map[string]any{"status": status, "name": name, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
