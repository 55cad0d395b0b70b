// Package streamtest provides an in-process fake of the chat provider's
// REST and websocket API for tests.
package streamtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"chatbridge/pkg/stream"
	"chatbridge/pkg/stream/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	APIKey    = "test-api-key"
	APISecret = "test-api-secret-0123456789abcdef"
)

type channel struct {
	typ      string
	id       string
	members  []string
	messages []types.Message
}

func (c *channel) cid() string { return c.typ + ":" + c.id }

func (c *channel) hasMember(userID string) bool {
	for _, m := range c.members {
		if m == userID {
			return true
		}
	}
	return false
}

type failure struct {
	status  int
	message string
}

// Server is a fake provider. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	channels    map[string]*channel
	users       map[string]types.User
	sockets     map[string]*websocket.Conn
	truncations map[string]int
	failures    map[string]failure
	connects    int
}

// NewServer starts a fake provider; callers must Close it
func NewServer() *Server {
	s := &Server{
		channels:    make(map[string]*channel),
		users:       make(map[string]types.User),
		sockets:     make(map[string]*websocket.Conn),
		truncations: make(map[string]int),
		failures:    make(map[string]failure),
	}

	r := mux.NewRouter()
	r.HandleFunc("/connect", s.handleConnect).Methods(http.MethodGet)
	r.HandleFunc("/channels/{type}/{id}/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/channels/{type}/{id}/message", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/channels/{type}/{id}/truncate", s.handleTruncate).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/members", s.handleMembers).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// Close drops open sockets and stops the server
func (s *Server) Close() {
	s.mu.Lock()
	sockets := s.sockets
	s.sockets = make(map[string]*websocket.Conn)
	s.mu.Unlock()

	for _, conn := range sockets {
		conn.CloseNow()
	}
	s.Server.Close()
}

// FailNext makes the next call of operation fail with status. Operations:
// connect, query, message, truncate, delete, members.
func (s *Server) FailNext(operation string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = failure{status: status, message: message}
}

// SeedChannel creates a channel with the given members
func (s *Server) SeedChannel(channelType, channelID string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(channelType, channelID, members)
}

// AddMessage appends a message authored by userID without going through the API
func (s *Server) AddMessage(channelType, channelID, userID, text string) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.getOrCreate(channelType, channelID, []string{userID})
	msg := s.newMessage(ch, uuid.NewString(), userID, text)
	ch.messages = append(ch.messages, msg)
	return msg
}

// Messages returns a copy of the channel's messages
func (s *Server) Messages(channelType, channelID string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelType+":"+channelID]
	if !ok {
		return nil
	}
	return append([]types.Message(nil), ch.messages...)
}

// Members returns the channel members
func (s *Server) Members(channelType, channelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelType+":"+channelID]
	if !ok {
		return nil
	}
	return append([]string(nil), ch.members...)
}

// Truncations counts truncate calls that reached the channel
func (s *Server) Truncations(channelType, channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truncations[channelType+":"+channelID]
}

// Connects counts accepted websocket connections
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *Server) getOrCreate(channelType, channelID string, members []string) *channel {
	cid := channelType + ":" + channelID
	ch, ok := s.channels[cid]
	if !ok {
		ch = &channel{typ: channelType, id: channelID}
		s.channels[cid] = ch
	}
	for _, m := range members {
		if !ch.hasMember(m) {
			ch.members = append(ch.members, m)
		}
	}
	return ch
}

func (s *Server) newMessage(ch *channel, id, userID, text string) types.Message {
	user, ok := s.users[userID]
	if !ok {
		user = types.User{ID: userID}
	}
	return types.Message{
		ID:        id,
		Text:      text,
		Type:      "regular",
		User:      &user,
		CID:       ch.cid(),
		CreatedAt: time.Now().UTC(),
	}
}

func (s *Server) takeFailure(operation string) (failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[operation]
	if ok {
		delete(s.failures, operation)
	}
	return f, ok
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.APIError{Code: 4, Message: message, StatusCode: status})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// authenticate checks the api key and returns the caller's user id, or
// "" with server=true for server credentials
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (userID string, server bool, ok bool) {
	if r.URL.Query().Get("api_key") != APIKey {
		writeError(w, http.StatusUnauthorized, "api_key not valid")
		return "", false, false
	}
	if r.Header.Get("Stream-Auth-Type") != "jwt" {
		writeError(w, http.StatusUnauthorized, "Stream-Auth-Type header must be jwt")
		return "", false, false
	}
	token := r.Header.Get("Authorization")
	if stream.IsServerToken(APISecret, token) {
		return "", true, true
	}
	claims, err := stream.ParseToken(APISecret, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "token signature is invalid")
		return "", false, false
	}
	return claims.UserID, false, true
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if f, failed := s.takeFailure("connect"); failed {
		writeError(w, f.status, f.message)
		return
	}
	q := r.URL.Query()
	if q.Get("api_key") != APIKey {
		writeError(w, http.StatusUnauthorized, "api_key not valid")
		return
	}

	var req types.ConnectRequest
	if err := json.Unmarshal([]byte(q.Get("json")), &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid connect payload")
		return
	}
	claims, err := stream.ParseToken(APISecret, q.Get("authorization"))
	if err != nil || claims.UserID != req.UserID {
		writeError(w, http.StatusUnauthorized, "token does not match user")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	connectionID := uuid.NewString()
	s.mu.Lock()
	s.users[req.UserID] = req.UserDetails
	s.sockets[connectionID] = conn
	s.connects++
	s.mu.Unlock()

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, types.Event{Type: types.EventHealthCheck, ConnectionID: connectionID}); err != nil {
		conn.CloseNow()
		return
	}

	// Drain client frames until it goes away
	for {
		var ignored map[string]interface{}
		if err := wsjson.Read(ctx, conn, &ignored); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.sockets, connectionID)
	s.mu.Unlock()
}

func (s *Server) broadcast(ev types.Event) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.sockets))
	for _, c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = wsjson.Write(ctx, c, ev)
		cancel()
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	userID, server, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if f, failed := s.takeFailure("query"); failed {
		writeError(w, f.status, f.message)
		return
	}

	var req types.ChannelQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	vars := mux.Vars(r)
	s.mu.Lock()
	var members []string
	if req.Data != nil {
		members = req.Data.Members
	}
	ch := s.getOrCreate(vars["type"], vars["id"], members)
	if !server && !ch.hasMember(userID) {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, fmt.Sprintf("user %q is not a member of %s", userID, ch.cid()))
		return
	}
	state := types.ChannelState{
		Channel:  types.Channel{ID: ch.id, Type: ch.typ, CID: ch.cid(), MemberCount: len(ch.members)},
		Messages: append([]types.Message{}, ch.messages...),
	}
	for _, m := range ch.members {
		user := s.users[m]
		if user.ID == "" {
			user.ID = m
		}
		state.Members = append(state.Members, types.Member{UserID: m, User: &user})
	}
	s.mu.Unlock()

	writeJSON(w, state)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if f, failed := s.takeFailure("message"); failed {
		writeError(w, f.status, f.message)
		return
	}

	var req types.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	vars := mux.Vars(r)
	s.mu.Lock()
	ch, exists := s.channels[vars["type"]+":"+vars["id"]]
	if !exists || !ch.hasMember(userID) {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "user is not a channel member")
		return
	}
	id := req.Message.ID
	if id == "" {
		id = uuid.NewString()
	}
	msg := s.newMessage(ch, id, userID, req.Message.Text)
	ch.messages = append(ch.messages, msg)
	s.mu.Unlock()

	s.broadcast(types.Event{Type: types.EventMessageNew, CID: msg.CID, Message: &msg})
	writeJSON(w, types.MessageResponse{Message: msg})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, server, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if f, failed := s.takeFailure("delete"); failed {
		writeError(w, f.status, f.message)
		return
	}

	messageID := mux.Vars(r)["id"]
	hard := r.URL.Query().Get("hard") == "true"

	s.mu.Lock()
	var (
		found   *types.Message
		foundCh *channel
		index   int
	)
	for _, ch := range s.channels {
		for i := range ch.messages {
			if ch.messages[i].ID == messageID {
				found, foundCh, index = &ch.messages[i], ch, i
			}
		}
	}
	if found == nil {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if !server && found.AuthorID() != userID {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "user may only delete own messages")
		return
	}

	deleted := *found
	now := time.Now().UTC()
	deleted.DeletedAt = &now
	if hard {
		foundCh.messages = append(foundCh.messages[:index], foundCh.messages[index+1:]...)
	} else {
		foundCh.messages[index] = deleted
	}
	s.mu.Unlock()

	s.broadcast(types.Event{Type: types.EventMessageDeleted, CID: deleted.CID, Message: &deleted, HardDelete: hard})
	writeJSON(w, types.MessageResponse{Message: deleted})
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	_, server, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !server {
		writeError(w, http.StatusForbidden, "truncate requires server-side auth")
		return
	}
	if f, failed := s.takeFailure("truncate"); failed {
		writeError(w, f.status, f.message)
		return
	}

	var req types.TruncateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	vars := mux.Vars(r)
	cid := vars["type"] + ":" + vars["id"]
	s.mu.Lock()
	ch, exists := s.channels[cid]
	if !exists {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, fmt.Sprintf("channel %q does not exist", cid))
		return
	}
	ch.messages = nil
	s.truncations[cid]++
	s.mu.Unlock()

	s.broadcast(types.Event{Type: types.EventChannelTruncated, CID: cid})
	writeJSON(w, map[string]interface{}{"channel": types.Channel{ID: ch.id, Type: ch.typ, CID: cid}})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	_, server, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !server {
		writeError(w, http.StatusForbidden, "query members requires server-side auth")
		return
	}
	if f, failed := s.takeFailure("members"); failed {
		writeError(w, f.status, f.message)
		return
	}

	var q types.MembersQuery
	if err := json.Unmarshal([]byte(r.URL.Query().Get("payload")), &q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	wanted := map[string]bool{}
	if idFilter, ok := q.FilterConditions["id"].(map[string]interface{}); ok {
		if in, ok := idFilter["$in"].([]interface{}); ok {
			for _, v := range in {
				if id, ok := v.(string); ok {
					wanted[id] = true
				}
			}
		}
	}

	s.mu.Lock()
	ch, exists := s.channels[q.Type+":"+q.ID]
	if !exists {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "channel does not exist")
		return
	}
	resp := types.MembersResponse{Members: []types.Member{}}
	for _, m := range ch.members {
		if len(wanted) == 0 || wanted[m] {
			resp.Members = append(resp.Members, types.Member{UserID: m})
		}
	}
	s.mu.Unlock()

	writeJSON(w, resp)
}
