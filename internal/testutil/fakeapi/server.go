// Package fakeapi is an in-memory forum backend for tests. It implements the
// endpoints the client consumes, issues JWTs, and supports fault injection
// per route.
package fakeapi

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"forumclient/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Fault makes a route answer with Status and an error body. Times is the
// number of requests affected; zero means until Heal.
type Fault struct {
	Status  int
	Message string
	Times   int
}

// Recorded is one request seen by the server.
type Recorded struct {
	Route         string
	Method        string
	Path          string
	Authorization string
	RequestID     string
	CorrelationID string
	TraceParent   string
	Body          string
}

type user struct {
	profile      models.UserProfile
	passwordHash []byte
}

// Options tune backend behavior.
type Options struct {
	// EchoCreated controls whether create endpoints return the created entity.
	EchoCreated bool
	// EchoToggles controls whether like/favorite return authoritative state.
	EchoToggles bool
}

// Server is a running fake backend.
type Server struct {
	// URL is the API root, e.g. http://127.0.0.1:port/api.
	URL string
	// Root is the server root used for /uploads/ assets.
	Root string

	app    *fiber.App
	secret []byte
	opts   Options

	mu        sync.Mutex
	users     map[uint]*user
	posts     map[uint]*models.Post
	comments  map[uint]*models.Comment
	likes     map[uint]map[uint]bool
	favorites map[uint]map[uint]bool
	uploads   map[string][]byte
	nextID    uint
	faults    map[string]*Fault
	blocks    map[string]chan struct{}
	requests  []Recorded
	revoked   bool
	closing   chan struct{}
}

// DefaultOptions echoes everything.
var DefaultOptions = Options{EchoCreated: true, EchoToggles: true}

// New starts a server on a loopback port and stops it when t finishes.
func New(t testing.TB, opts ...Options) *Server {
	t.Helper()
	o := DefaultOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakeapi: listen: %v", err)
	}

	s := &Server{
		Root:      "http://" + ln.Addr().String(),
		secret:    []byte("fakeapi-secret-at-least-32-characters"),
		opts:      o,
		users:     make(map[uint]*user),
		posts:     make(map[uint]*models.Post),
		comments:  make(map[uint]*models.Comment),
		likes:     make(map[uint]map[uint]bool),
		favorites: make(map[uint]map[uint]bool),
		uploads:   make(map[string][]byte),
		nextID:    1,
		faults:    make(map[string]*Fault),
		blocks:    make(map[string]chan struct{}),
		closing:   make(chan struct{}),
	}
	s.URL = s.Root + "/api"

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
	})
	s.routes()

	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() {
		close(s.closing)
		_ = s.app.Shutdown()
	})
	return s
}

func (s *Server) routes() {
	api := s.app.Group("/api")

	api.Post("/auth/login", s.wrap("POST /auth/login", false, s.login))
	api.Post("/auth/register", s.wrap("POST /auth/register", false, s.register))

	api.Get("/posts", s.wrap("GET /posts", false, s.listPosts))
	api.Post("/posts", s.wrap("POST /posts", true, s.createPost))
	api.Get("/posts/:id", s.wrap("GET /posts/:id", false, s.getPost))
	api.Delete("/posts/:id", s.wrap("DELETE /posts/:id", true, s.deletePost))
	api.Post("/posts/:id/like", s.wrap("POST /posts/:id/like", true, s.toggleLike))
	api.Post("/posts/:id/favorite", s.wrap("POST /posts/:id/favorite", true, s.toggleFavorite))

	api.Get("/comments/:postId", s.wrap("GET /comments/:postId", false, s.listComments))
	api.Post("/comments/:postId", s.wrap("POST /comments/:postId", true, s.createComment))
	api.Put("/comments/:id", s.wrap("PUT /comments/:id", true, s.updateComment))
	api.Delete("/comments/:id", s.wrap("DELETE /comments/:id", true, s.deleteComment))

	api.Get("/users/:id/likes", s.wrap("GET /users/:id/likes", true, s.userLikes))
	api.Get("/users/:id/favorites", s.wrap("GET /users/:id/favorites", true, s.userFavorites))

	api.Post("/upload/post-image", s.wrap("POST /upload/post-image", true, s.uploadImage))

	s.app.Get("/uploads/*", func(c *fiber.Ctx) error {
		s.mu.Lock()
		data, ok := s.uploads["/uploads/"+c.Params("*")]
		s.mu.Unlock()
		if !ok {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.Send(data)
	})
}

// wrap records the request, applies blocks and faults, and enforces auth.
func (s *Server) wrap(route string, auth bool, h fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s.mu.Lock()
		s.requests = append(s.requests, Recorded{
			Route:         route,
			Method:        c.Method(),
			Path:          c.OriginalURL(),
			Authorization: c.Get(fiber.HeaderAuthorization),
			RequestID:     c.Get(fiber.HeaderXRequestID),
			CorrelationID: c.Get("X-Correlation-ID"),
			TraceParent:   c.Get("traceparent"),
			Body:          string(c.Body()),
		})
		block := s.blocks[route]
		s.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-s.closing:
				return c.SendStatus(fiber.StatusServiceUnavailable)
			}
		}

		if f := s.takeFault(route); f != nil {
			return c.Status(f.Status).JSON(fiber.Map{"message": f.Message})
		}

		if auth {
			uid, ok := s.authenticate(c.Get(fiber.HeaderAuthorization))
			if !ok {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
			}
			c.Locals("userID", uid)
		}
		return h(c)
	}
}

func (s *Server) takeFault(route string) *Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faults[route]
	if !ok {
		return nil
	}
	out := *f
	if f.Times > 0 {
		f.Times--
		if f.Times == 0 {
			delete(s.faults, route)
		}
	}
	return &out
}

func (s *Server) authenticate(header string) (uint, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return 0, false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, false
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked {
		return 0, false
	}
	if _, ok := s.users[uint(id)]; !ok {
		return 0, false
	}
	return uint(id), true
}

// --- test controls ---

// Fail injects a fault on route.
func (s *Server) Fail(route string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = &f
}

// Heal removes a fault.
func (s *Server) Heal(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, route)
}

// Block holds every request to route until the returned release is called.
func (s *Server) Block(route string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.blocks[route] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.blocks, route)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// RevokeTokens makes every issued token fail authentication.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
}

// Requests returns a copy of the requests seen so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// RequestsTo returns the recorded requests for one route.
func (s *Server) RequestsTo(route string) []Recorded {
	var out []Recorded
	for _, r := range s.Requests() {
		if r.Route == route {
			out = append(out, r)
		}
	}
	return out
}

// AddUser registers a user directly.
func (s *Server) AddUser(username, email, password string) models.UserProfile {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, hash)
}

func (s *Server) addUserLocked(username, email string, hash []byte) models.UserProfile {
	id := s.nextID
	s.nextID++
	u := &user{
		profile:      models.UserProfile{ID: id, Username: username, Email: email},
		passwordHash: hash,
	}
	s.users[id] = u
	return u.profile
}

// Token issues a valid token for userID.
func (s *Server) Token(userID uint) string {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

// AddPost creates a post directly and returns it.
func (s *Server) AddPost(authorID uint, title, content string) models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addPostLocked(authorID, title, content, "")
}

// SeedPosts creates n posts with generated text for authorID.
func (s *Server) SeedPosts(authorID uint, n int) []models.Post {
	faker := gofakeit.New(int64(authorID))
	out := make([]models.Post, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.AddPost(authorID, faker.Sentence(5), faker.Paragraph(1, 2, 8, " ")))
	}
	return out
}

// EditPost mutates the stored post with id.
func (s *Server) EditPost(id uint, fn func(p *models.Post)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[id]; ok {
		fn(p)
	}
}

// AddComment creates a comment directly.
func (s *Server) AddComment(authorID, postID uint, content string) models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addCommentLocked(authorID, postID, content)
}

// SetLiked marks a post as liked by userID without going through the API.
func (s *Server) SetLiked(userID, postID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setFlag(s.likes, userID, postID, true)
}

// Post returns the server copy of a post.
func (s *Server) Post(id uint) (models.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return models.Post{}, false
	}
	return s.renderPostLocked(p), true
}

// Comment returns the server copy of a comment.
func (s *Server) Comment(id uint) (models.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return models.Comment{}, false
	}
	return *c, true
}

// IsLiked reports the server-side like state.
func (s *Server) IsLiked(userID, postID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likes[userID][postID]
}

// Upload returns an uploaded file by its /uploads/ path.
func (s *Server) Upload(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.uploads[path]
	return data, ok
}

func (s *Server) addPostLocked(authorID uint, title, content, imageURL string) *models.Post {
	id := s.nextID
	s.nextID++
	p := &models.Post{
		ID:        id,
		Title:     title,
		Content:   content,
		ImageURL:  imageURL,
		UserID:    authorID,
		CreatedAt: time.Now().UTC().Add(time.Duration(id) * time.Millisecond),
	}
	if u, ok := s.users[authorID]; ok {
		p.Username = u.profile.Username
	}
	s.posts[id] = p
	return p
}

func (s *Server) addCommentLocked(authorID, postID uint, content string) *models.Comment {
	id := s.nextID
	s.nextID++
	now := time.Now().UTC().Add(time.Duration(id) * time.Millisecond)
	c := &models.Comment{
		ID:        id,
		PostID:    postID,
		UserID:    authorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if u, ok := s.users[authorID]; ok {
		c.Username = u.profile.Username
	}
	s.comments[id] = c
	return c
}

func (s *Server) renderPostLocked(p *models.Post) models.Post {
	out := *p
	out.LikesCount = 0
	for _, set := range s.likes {
		if set[p.ID] {
			out.LikesCount++
		}
	}
	out.CommentsCount = 0
	for _, c := range s.comments {
		if c.PostID == p.ID {
			out.CommentsCount++
		}
	}
	return out
}

// sortedPostsLocked returns posts newest first.
func (s *Server) sortedPostsLocked() []*models.Post {
	out := make([]*models.Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func setFlag(m map[uint]map[uint]bool, userID, postID uint, v bool) {
	set, ok := m[userID]
	if !ok {
		set = make(map[uint]bool)
		m[userID] = set
	}
	if v {
		set[postID] = true
	} else {
		delete(set, postID)
	}
}
