package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequireAuth(t *testing.T) {
	var got Principal
	h := RequireAuth(HS256("s3cret"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, _ := SignHS256(Claims{Sub: "u1", Role: RolePatient, PatientID: "p1", Exp: time.Now().Add(time.Hour).Unix()}, "s3cret")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"ok", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if got != (Principal{UserID: "u1", Role: RolePatient, PatientID: "p1"}) {
		t.Fatalf("unexpected principal %+v", got)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), RoleDentist, RoleAuxiliary)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "u", Role: RolePatient}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "u", Role: RoleDentist}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestKeySetVerifiesBothAlgorithms(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	defer srv.Close()

	ks := KeySet{JWKS: NewJWKSClient(srv.URL, time.Minute), Secret: "s"}
	claims := Claims{Sub: "u", Role: RoleDentist, Exp: time.Now().Add(time.Hour).Unix()}

	rs, err := signRS256(claims, key, "k1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ks.Verify(t.Context(), rs); err != nil {
		t.Fatalf("rs256 verify failed: %v", err)
	}

	unknownKid, _ := signRS256(claims, key, "k2")
	if _, err := ks.Verify(t.Context(), unknownKid); err == nil {
		t.Fatal("expected failure for unknown kid")
	}

	hs, _ := SignHS256(claims, "s")
	if _, err := ks.Verify(t.Context(), hs); err != nil {
		t.Fatalf("hs256 verify failed: %v", err)
	}
}
