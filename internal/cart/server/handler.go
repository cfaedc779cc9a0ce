package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cartsync/cart/internal/cart/classify"
	"github.com/cartsync/cart/internal/cart/db"
	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/schema"
	"go.uber.org/zap"
)

// Request bodies.
type (
	AddItemRequest struct {
		Name     string `json:"name"`
		Icon     string `json:"icon,omitempty"`
		Category string `json:"category,omitempty"`
	}

	SetCompletedRequest struct {
		Completed bool `json:"is_completed"`
	}

	CreateGroupRequest struct {
		Name string `json:"name"`
	}

	AddMemberRequest struct {
		// UserID to add; empty joins the caller
		UserID string `json:"user_id,omitempty"`
	}
)

// Response bodies.
type (
	DeletedResponse struct {
		Deleted int `json:"deleted"`
	}

	ImportResponse struct {
		Written int `json:"written"`
	}
)

// maxBodyBytes bounds request bodies; imports are the largest.
const maxBodyBytes = 4 << 20

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /groups", s.handleListGroups)
	mux.HandleFunc("POST /groups", s.handleCreateGroup)
	mux.HandleFunc("GET /groups/{group}", s.member(s.handleGetGroup))

	mux.HandleFunc("GET /groups/{group}/items", s.member(s.handleListItems))
	mux.HandleFunc("POST /groups/{group}/items", s.member(s.handleAddItem))
	mux.HandleFunc("DELETE /groups/{group}/items", s.member(s.handleClearItems))
	mux.HandleFunc("POST /groups/{group}/import", s.member(s.handleImport))

	mux.HandleFunc("GET /groups/{group}/members", s.member(s.handleListMembers))
	mux.HandleFunc("POST /groups/{group}/members", s.handleAddMember)
	mux.HandleFunc("DELETE /groups/{group}/members/{user}", s.member(s.handleRemoveMember))

	mux.HandleFunc("PATCH /items/{id}", s.handleSetCompleted)
	mux.HandleFunc("DELETE /items/{id}", s.handleDeleteItem)

	mux.HandleFunc("GET /users", s.handleListUsers)
	mux.HandleFunc("PUT /users/{id}", s.handlePutUser)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

func userFrom(r *http.Request) string {
	if u := r.Header.Get(HeaderUser); u != "" {
		return u
	}
	// Browsers cannot set headers on WebSocket upgrades.
	return r.URL.Query().Get("user")
}

// authorize checks that user belongs to group.
func (s *Server) authorize(ctx context.Context, group, user string) error {
	if user == "" {
		return ErrUnauthenticated
	}
	if _, err := s.store.GetGroup(ctx, group); err != nil {
		return err
	}
	ok, err := s.store.DB().IsMember(ctx, group, user)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// member wraps a group-scoped handler with a membership check.
func (s *Server) member(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorize(r.Context(), r.PathValue("group"), userFrom(r)); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

// itemGroup authorizes access to an item through its group.
func (s *Server) itemGroup(r *http.Request, id string) (schema.Item, error) {
	item, err := s.store.DB().GetItem(r.Context(), id)
	if err != nil {
		return schema.Item{}, err
	}
	if err := s.authorize(r.Context(), item.GroupID, userFrom(r)); err != nil {
		return schema.Item{}, err
	}
	return item, nil
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if user == "" {
		writeError(w, ErrUnauthenticated)
		return
	}
	groups, err := s.store.ListUserGroups(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if user == "" {
		writeError(w, ErrUnauthenticated)
		return
	}
	var req CreateGroupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := schema.ValidateName(req.Name); err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	g, err := s.store.CreateGroup(r.Context(), strings.TrimSpace(req.Name), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGroup(r.Context(), r.PathValue("group"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.FetchItems(r.Context(), r.PathValue("group"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := schema.ValidateName(req.Name); err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	if req.Icon == "" {
		req.Icon = classify.Default.Icon(req.Name)
	}
	if req.Category == "" {
		req.Category = classify.Default.Category(req.Name)
	}
	item, err := s.store.AddItem(r.Context(), r.PathValue("group"), req.Name, req.Icon, req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleClearItems(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	completedOnly := r.URL.Query().Get("completed") == "true"

	before, _, err := s.store.DB().CountItems(r.Context(), group)
	if err != nil {
		writeError(w, err)
		return
	}
	if completedOnly {
		err = s.store.DeleteCompleted(r.Context(), group)
	} else {
		err = s.store.DeleteAll(r.Context(), group)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	after, _, err := s.store.DB().CountItems(r.Context(), group)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedResponse{Deleted: max(before-after, 0)})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var items []schema.Item
	if err := decode(w, r, &items); err != nil {
		writeError(w, err)
		return
	}
	n, err := s.store.ImportItems(r.Context(), r.PathValue("group"), items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Written: n})
}

func (s *Server) handleSetCompleted(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.itemGroup(r, id); err != nil {
		writeError(w, err)
		return
	}
	var req SetCompletedRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.SetCompleted(r.Context(), id, req.Completed); err != nil {
		writeError(w, err)
		return
	}
	item, err := s.store.DB().GetItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.itemGroup(r, id); err != nil {
		// Deleting an item that is already gone succeeds.
		if errors.Is(err, db.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, err)
		return
	}
	if err := s.store.DeleteItem(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.ListMembers(r.Context(), r.PathValue("group"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// handleAddMember lets anyone holding the group ID join it, and lets
// members add other users.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	group, user := r.PathValue("group"), userFrom(r)
	if user == "" {
		writeError(w, ErrUnauthenticated)
		return
	}
	var req AddMemberRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	target := req.UserID
	if target == "" || target == user {
		target = user
	} else if err := s.authorize(r.Context(), group, user); err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.AddMember(r.Context(), group, target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveMember(r.Context(), r.PathValue("group"), r.PathValue("user")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handlePutUser saves the caller's own profile.
func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	switch user := userFrom(r); {
	case user == "":
		writeError(w, ErrUnauthenticated)
		return
	case user != r.PathValue("id"):
		writeError(w, ErrForbidden)
		return
	}

	var p schema.UserProfile
	if err := decode(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	p.ID = r.PathValue("id")
	if strings.TrimSpace(p.Email) == "" {
		writeError(w, badRequest("email is required"))
		return
	}
	if err := s.store.UpsertUserProfile(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// changeMessage wraps a feed event as a stream message.
func changeMessage(ev feed.Event) (Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageTypeChange, Timestamp: ev.At, Data: data}, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
