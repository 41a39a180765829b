package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	authcore "github.com/kestrelsec/authcore"
)

type fakeAuthorizer struct {
	result *authcore.AuthResult
	err    error

	gotToken      string
	gotPermission string
}

func (f *fakeAuthorizer) Authorize(_ context.Context, token, permission string) (*authcore.AuthResult, error) {
	f.gotToken = token
	f.gotPermission = permission
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			t.Error("AuthResult missing from request context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestGuardAllowsValidToken(t *testing.T) {
	auth := &fakeAuthorizer{result: &authcore.AuthResult{UserID: "user-1", SessionID: "s1"}}
	handler := Guard(auth, "documents.read")(okHandler(t))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer token-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if auth.gotToken != "token-123" {
		t.Errorf("token = %q, want token-123", auth.gotToken)
	}
	if auth.gotPermission != "documents.read" {
		t.Errorf("permission = %q, want documents.read", auth.gotPermission)
	}
}

func TestGuardRejectsMissingToken(t *testing.T) {
	handler := Guard(&fakeAuthorizer{}, "")(okHandler(t))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGuardStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{authcore.ErrSessionRevoked, http.StatusUnauthorized},
		{authcore.ErrTokenExpired, http.StatusUnauthorized},
		{authcore.ErrPermissionDenied, http.StatusForbidden},
		{authcore.ErrStorageUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		handler := Guard(&fakeAuthorizer{err: tc.err}, "p")(okHandler(t))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer t")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestFromContextWithoutGuard(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("expected nil without guard")
	}
}
