package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
	mw "github.com/JonMunkholm/recordkeeper/internal/web/middleware"
)

type actorKey struct{}

// withActor stores the resolved actor for the request.
func withActor(ctx context.Context, a audit.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// actorFrom returns the request's actor. Without an X-Actor-ID header it is
// the zero actor, which the document store rejects for mutations.
func actorFrom(ctx context.Context) audit.Actor {
	a, _ := ctx.Value(actorKey{}).(audit.Actor)
	return a
}

// resolveActor resolves the X-Actor-ID header through the cached resolver.
// An unknown ID fails the request; a missing header leaves the zero actor.
func (s *Server) resolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(mw.ActorHeader))
		if id == "" || s.deps.Actors == nil {
			next.ServeHTTP(w, r)
			return
		}

		a, err := s.deps.Actors.Resolve(r.Context(), id)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("resolve actor %q: %w", id, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), a)))
	})
}
