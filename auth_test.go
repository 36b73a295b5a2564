package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestUserPasswords(t *testing.T) {
	Convey("Operator password handling", t, func() {
		user := new(User)

		Convey("SetPassword stores a hash, never the plain text", func() {
			user.SetPassword([]byte("hello123"))
			So(user.Password, ShouldStartWith, "$")
			So(user.Password, ShouldNotContainSubstring, "hello123")

			So(user.VerifyPassword([]byte("hello123")), ShouldBeNil)
			So(user.VerifyPassword([]byte("hello12")), ShouldNotBeNil)
		})

		Convey("A corrupt hash surfaces the bcrypt error unmodified", func() {
			user.Password = "I DON'T WORK"
			So(user.VerifyPassword([]byte("hello123")).Error(), ShouldContainSubstring, "hashedSecret too short")
		})
	})
}

func TestIssueToken(t *testing.T) {
	Convey("Issued tokens carry the session claims", t, func() {
		raw, err := issueToken("operator@drawarm.test", true)
		So(err, ShouldBeNil)
		So(raw, ShouldNotBeEmpty)

		claims, err := parseToken(raw)
		So(err, ShouldBeNil)
		So(claims.Subject, ShouldEqual, "operator@drawarm.test")
		So(claims.Admin, ShouldBeTrue)
		So(claims.ExpiresAt-claims.IssuedAt, ShouldEqual, int64(tokenLifespan/time.Second))
	})

	Convey("Garbage does not parse", t, func() {
		_, err := parseToken("not.a.token")
		So(err, ShouldNotBeNil)
	})

	Convey("An expired token is reported as such", t, func() {
		past := time.Now().UTC().Add(-2 * time.Hour)
		expired := jwt.NewWithClaims(jwt.SigningMethodHS512, armClaims{
			StandardClaims: jwt.StandardClaims{
				Subject:   "operator@drawarm.test",
				IssuedAt:  past.Unix(),
				ExpiresAt: past.Add(time.Minute).Unix(),
			},
		})
		raw, err := expired.SignedString([]byte(ENV.JWT_SECRET))
		So(err, ShouldBeNil)

		_, err = parseToken(raw)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "expired")
	})
}

func postLogin(t *testing.T, req *LoginRequest) *httptest.ResponseRecorder {
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("POST", "/api/login/", bytes.NewBuffer(body))
	r.Header.Add("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	http.HandlerFunc(Login).ServeHTTP(rr, r)
	return rr
}

func TestLogin(t *testing.T) {
	// setup the fake db
	db, err := openDb("./tmp/test.db")
	if err != nil {
		panic(err)
	}
	ENV.DB = db

	user := &User{
		Email: "operator@drawarm.test",
	}
	user.SetPassword([]byte("testing123"))
	ENV.DB.Save(user)

	Convey("Valid credentials yield a token", t, func() {
		rr := postLogin(t, &LoginRequest{
			Email:    "operator@drawarm.test",
			Password: "testing123",
		})

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, `"token":`)
	})

	Convey("Invalid credentials return an error", t, func() {
		Convey("An unknown operator provides 404", func() {
			rr := postLogin(t, &LoginRequest{
				Email:    "nobody@drawarm.test",
				Password: "testing123",
			})

			So(rr.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("A wrong password provides 403", func() {
			rr := postLogin(t, &LoginRequest{
				Email:    "operator@drawarm.test",
				Password: "testing12",
			})

			So(rr.Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("Missing fields are rejected before the store is hit", func() {
			rr := postLogin(t, &LoginRequest{Email: "operator@drawarm.test"})
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestRequireAuth(t *testing.T) {
	var seen *armClaims
	protected := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = sessionClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	Convey("A valid bearer token passes and parks its claims", t, func() {
		seen = nil
		raw, err := issueToken("operator@drawarm.test", false)
		So(err, ShouldBeNil)

		r := httptest.NewRequest("GET", "/api/status", nil)
		r.Header.Set("Authorization", "Bearer "+raw)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, r)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(seen, ShouldNotBeNil)
		So(seen.Subject, ShouldEqual, "operator@drawarm.test")
	})

	Convey("The query string works where headers cannot", t, func() {
		seen = nil
		raw, err := issueToken("operator@drawarm.test", false)
		So(err, ShouldBeNil)

		r := httptest.NewRequest("GET", "/ws/control?jwt="+raw, nil)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, r)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(seen, ShouldNotBeNil)
	})

	Convey("No token is a 401", t, func() {
		r := httptest.NewRequest("GET", "/api/status", nil)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, r)

		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})

	Convey("A mangled token is a 401", t, func() {
		r := httptest.NewRequest("GET", "/api/status", nil)
		r.Header.Set("Authorization", "Bearer nope")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, r)

		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})
}
