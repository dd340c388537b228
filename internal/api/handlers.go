package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/board-sync/internal/authz"
	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/server"
	"github.com/npezzotti/board-sync/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *App) writeError(w http.ResponseWriter, errResp *ApiError) {
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Println("health check: store:", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			s.log.Println("health check: redis:", err)
			s.writeError(w, NewInternalServerError(err))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func userFromDoc(doc *database.Document) (types.User, error) {
	var u types.User
	if err := database.Decode(doc.Data, &u); err != nil {
		return u, err
	}

	u.Id = doc.ID
	u.CreatedAt = doc.CreatedAt
	u.UpdatedAt = doc.UpdatedAt
	return u, nil
}

func (s *App) getUser(r *http.Request, userId string) (types.User, *ApiError) {
	doc, err := s.store.Collection(types.UsersCollection).Get(r.Context(), userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.User{}, NewNotFoundError()
		}
		return types.User{}, NewInternalServerError(err)
	}

	u, err := userFromDoc(doc)
	if err != nil {
		return types.User{}, NewInternalServerError(err)
	}
	return u, nil
}

// createAccount stores the credentials under the email address first, so
// two registrations racing for the same email cannot both succeed.
func (s *App) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	userId := uuid.NewString()
	account, err := database.Encode(types.Account{UserId: userId, PasswordHash: pwdHash})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	_, created, err := s.store.Collection(types.AccountsCollection).AddWithID(r.Context(), req.Email, account, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if !created {
		s.writeError(w, NewConflictError())
		return
	}

	data, err := database.Encode(types.User{Name: req.Name, Email: req.Email, UserRole: authz.RoleUser})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	doc, _, err := s.store.Collection(types.UsersCollection).AddWithID(r.Context(), userId, data, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	u, err := userFromDoc(doc)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, u)
}

func (s *App) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	u, errResp := s.getUser(r, userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, u)
}

func (s *App) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if lr.Email == "" || lr.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	doc, err := s.store.Collection(types.AccountsCollection).Get(r.Context(), lr.Email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	var account types.Account
	if err := database.Decode(doc.Data, &account); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(account.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	u, errResp := s.getUser(r, account.UserId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	token, err := s.createJwtForSession(u.Id, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *App) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", -defaultJwtExpiration))
	w.WriteHeader(http.StatusNoContent)
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if _, errResp := s.getUser(r, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.ss.Connect(r.Context(), conn, userId)
}

// dispatch runs a REST request through the same router the websocket
// clients use.
func (s *App) dispatch(w http.ResponseWriter, r *http.Request, typ server.MessageType, action string, body server.RequestBody, status int) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	raw, err := json.Marshal(body)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	msg := &server.ClientMessage{
		MsgId: uuid.NewString(),
		Type:  typ,
		Route: "/api/" + r.PathValue("resource") + "/" + action,
		Body:  raw,
	}

	resp := s.ss.Router().Handle(r.Context(), userId, msg)
	if !resp.Body.Success {
		s.writeError(w, routerError(resp.Body))
		return
	}

	s.writeJson(w, status, resp.Body.Data)
}

func (s *App) createDocument(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	s.dispatch(w, r, server.TypePost, server.ActionCreate, server.RequestBody{Data: data}, http.StatusCreated)
}

func (s *App) readDocument(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, server.TypeGet, server.ActionRead, server.RequestBody{Id: r.PathValue("id")}, http.StatusOK)
}

// listDocuments returns the whole collection, or the documents matching
// ?field=&value= when a field is given.
func (s *App) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if field := q.Get("field"); field != "" {
		body := server.RequestBody{Field: field, Value: q.Get("value")}
		s.dispatch(w, r, server.TypeGet, server.ActionQuery, body, http.StatusOK)
		return
	}

	s.dispatch(w, r, server.TypeGet, server.ActionRead, server.RequestBody{}, http.StatusOK)
}

func (s *App) updateDocument(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil || updates == nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	body := server.RequestBody{Id: r.PathValue("id"), Updates: updates}
	s.dispatch(w, r, server.TypePost, server.ActionUpdate, body, http.StatusOK)
}

func (s *App) deleteDocument(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, server.TypeDel, server.ActionDelete, server.RequestBody{Id: r.PathValue("id")}, http.StatusOK)
}
