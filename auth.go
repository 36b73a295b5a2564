package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

// tokenLifespan bounds a session; clients refresh through /api/refresh_token.
const tokenLifespan = time.Hour

// User is an operator account allowed to drive the arm. Admins may also
// manage other accounts through the dev shell.
type User struct {
	ID       int    `storm:"increment"`
	Email    string `storm:"unique"`
	Name     string
	Password string // bcrypt hash, never the plain text
	Admin    bool
}

func (u *User) SetPassword(pass []byte) {
	hash, _ := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	u.Password = string(hash)
}

// VerifyPassword returns the bcrypt error unmodified so callers can tell a
// mismatch from a corrupt hash.
func (u *User) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), pass)
}

// armClaims is the session token payload: the registered claim set plus
// whether the operator holds admin rights.
type armClaims struct {
	jwt.StandardClaims
	Admin bool `json:"adm,omitempty"`
}

type claimsKey struct{}

// issueToken signs a fresh session token for the given subject.
func issueToken(subject string, admin bool) (string, error) {
	now := time.Now().UTC()
	claims := armClaims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    ENV.JWT_ISSUER,
			Subject:   subject,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(tokenLifespan).Unix(),
		},
		Admin: admin,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(ENV.JWT_SECRET))
}

// tokenFromRequest pulls the raw token from the query string, the bearer
// header or the session cookie, in that order. Websocket clients can only
// use the first and last.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("jwt"); t != "" {
		return t
	}

	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.EqualFold(bearer[0:6], "bearer") {
		return bearer[7:]
	}

	if cookie, err := r.Cookie("jwt"); err == nil {
		return cookie.Value
	}
	return ""
}

func parseToken(raw string) (*armClaims, error) {
	claims := new(armClaims)
	token, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(ENV.JWT_SECRET), nil })
	if err != nil {
		if verr, ok := err.(*jwt.ValidationError); ok && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errors.New("token has expired")
		}
		return nil, errors.New("invalid token")
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l *LoginRequest) Bind(r *http.Request) error {
	if l.Email == "" || l.Password == "" {
		return errors.New("email and password are required")
	}
	return nil
}

type TokenResponse struct {
	Token string `json:"token"`
}

// Login checks credentials against the operator store and answers with a
// session token.
func Login(w http.ResponseWriter, r *http.Request) {
	data := &LoginRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	var user User
	if err := ENV.DB.One("Email", data.Email, &user); err != nil {
		if err == storm.ErrNotFound {
			render.Render(w, r, ErrNotFound)
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	if err := user.VerifyPassword([]byte(data.Password)); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			render.Render(w, r, ErrPermissionDenied(errors.New("invalid password")))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	token, err := issueToken(user.Email, user.Admin)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, TokenResponse{token})
}

// RefreshToken re-issues a token for the already-authenticated caller,
// carrying its claims forward.
func RefreshToken(w http.ResponseWriter, r *http.Request) {
	claims := sessionClaims(r.Context())
	if claims == nil {
		render.Render(w, r, ErrUnauthorized(errors.New("no session")))
		return
	}

	token, err := issueToken(claims.Subject, claims.Admin)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, TokenResponse{token})
}

// RequireAuth gates a route subtree on a valid session token and parks the
// claims on the request context.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			render.Render(w, r, ErrUnauthorized(errors.New("bearer token not provided")))
			return
		}

		claims, err := parseToken(raw)
		if err != nil {
			render.Render(w, r, ErrUnauthorized(err))
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionClaims returns the claims RequireAuth stored, or nil outside an
// authenticated route.
func sessionClaims(ctx context.Context) *armClaims {
	claims, _ := ctx.Value(claimsKey{}).(*armClaims)
	return claims
}
