package web

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/search"
	"chat-relay/observability"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
)

const nextCursorHeader = "X-Next-Cursor"

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var newUser domain.NewUser
	if err := json.NewDecoder(r.Body).Decode(&newUser); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	user, err := s.service.CreateUser(r.Context(), newUser)
	if err != nil {
		message := err.Error()
		if statusFromError(err) == http.StatusUnprocessableEntity {
			message = fmt.Sprintf("User already exists with username: %s", newUser.Username)
		}
		s.writeFailure(w, err, message)
		return
	}
	s.log.Info("User created", "user_id", user.ID)
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user, err := s.service.FindUser(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err, fmt.Sprintf("No user found with username: %s", id))
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) getConversations(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = &c
	}
	conversations, next, err := s.service.GetConversations(r.Context(), roomID, cursor)
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	if len(conversations) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("No conversation with room id: %s", roomID))
		return
	}
	if next != nil {
		w.Header().Set(nextCursorHeader, *next)
	}
	s.writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) getRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.service.GetRooms(r.Context())
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	if len(rooms) == 0 {
		s.writeError(w, http.StatusNotFound, "No rooms available")
		return
	}
	s.writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	room, err := s.service.FindRoom(r.Context(), roomID)
	if err != nil {
		s.writeFailure(w, err, fmt.Sprintf("No room found with id: %s", roomID))
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

// getLiveRooms lists the rooms currently known by the registry, persisted or not.
func (s *Server) getLiveRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.registry.ListRooms(r.Context())
	if err != nil {
		s.writeFailure(w, err, "Registry unavailable")
		return
	}
	slices.Sort(rooms)
	s.writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := search.NewSearchQuery(r.URL.Query().Get("q"))
	conversations, err := s.service.Search(r.Context(), query)
	if err != nil {
		s.writeFailure(w, err, "Search terms are required")
		return
	}
	if conversations == nil {
		conversations = []domain.Conversation{}
	}
	s.writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Relay    observability.RelayStats `json:"relay"`
	Registry contract.RegistryStats   `json:"registry"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	registryStats, err := s.registry.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, err, "Registry unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{Relay: s.monitor.Snapshot(), Registry: registryStats})
}
