// Package postest is an in-process fake of the POS orders API for tests.
package postest

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/supperclub/clubdesk/internal/pos"
	"github.com/supperclub/clubdesk/internal/server"
	pkgstore "github.com/supperclub/clubdesk/pkg/store"
)

// Credentials the fake accepts.
const (
	Token          = "toast_test_token"
	RestaurantGUID = "rest-clubdesk-0001"
)

// Server is the fake orders API.
type Server struct {
	*httptest.Server

	Orders *pkgstore.Store[pos.Order]
}

// New starts a fake; it is closed when the test ends.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{Orders: pkgstore.New[pos.Order]("ord")}
	r := chi.NewRouter()
	r.With(s.auth).Get("/orders/v2/ordersBulk", s.ordersBulk)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

// Client returns a POS client pointed at the fake using a small page size so
// pagination is exercised.
func (s *Server) Client() *pos.Client {
	return pos.New(pos.Config{
		BaseURL: s.URL, Token: Token, RestaurantGUID: RestaurantGUID, PageSize: 2, HTTPClient: s.Server.Client(),
	})
}

// Add stores an order.
func (s *Server) Add(o pos.Order) {
	if o.GUID == "" {
		o.GUID = s.Orders.NextID()
	}
	s.Orders.Set(o.GUID, o)
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			server.JSON(w, http.StatusUnauthorized, pos.Error{Status: 401, Code: 10001, Message: "Invalid token"})
			return
		}
		if r.Header.Get(pos.RestaurantHeader) != RestaurantGUID {
			server.JSON(w, http.StatusForbidden, pos.Error{Status: 403, Code: 10002, Message: "Unknown restaurant"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ordersBulk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := strconv.Atoi(q.Get("businessDate"))
	if err != nil {
		server.JSON(w, http.StatusBadRequest, pos.Error{Status: 400, Code: 10400, Message: "businessDate must be yyyymmdd"})
		return
	}
	page := atoiDefault(q.Get("page"), 1)
	size := atoiDefault(q.Get("pageSize"), pos.DefaultPageSize)

	matched := s.Orders.Filter(func(_ string, o pos.Order) bool { return o.BusinessDate == date })
	slices.SortFunc(matched, func(a, b pos.Order) int { return strings.Compare(a.GUID, b.GUID) })

	start := min((page-1)*size, len(matched))
	end := min(start+size, len(matched))
	server.JSON(w, http.StatusOK, matched[start:end])
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
