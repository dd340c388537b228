package api

import (
	"errors"
	"fmt"
	"net/http"
)

// errorHandler turns a handler panic into a 500 and closes the connection.
// http.ErrAbortHandler is passed on so net/http can abort the response.
func (s *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			if errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			s.log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, err)
			w.Header().Set("Connection", "close")
			s.writeError(w, NewInternalServerError(err))
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the session cookie to a user id on the request
// context. A cookie that no longer verifies is cleared.
func (s *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(tokenCookieKey)
		if err != nil {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		userId, err := s.extractUserIdFromToken(cookie.Value)
		if err != nil {
			s.log.Printf("%s %s: rejecting session: %v", r.Method, r.URL.Path, err)
			http.SetCookie(w, createJwtCookie("", -defaultJwtExpiration))
			s.writeError(w, NewUnauthorizedError())
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}
