package fakeapi

import (
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"forumclient/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

func currentUser(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func (s *Server) login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	s.mu.Lock()
	var found *user
	for _, u := range s.users {
		if strings.EqualFold(u.profile.Email, req.Identifier) || u.profile.Username == req.Identifier {
			found = u
			break
		}
	}
	s.mu.Unlock()

	if found == nil || bcrypt.CompareHashAndPassword(found.passwordHash, []byte(req.Password)) != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid credentials")
	}
	return c.JSON(fiber.Map{"token": s.Token(found.profile.ID), "user": found.profile})
}

func (s *Server) register(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Username == "" || req.Email == "" || len(req.Password) < 6 {
		return errorJSON(c, fiber.StatusBadRequest, "Username, email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to hash password")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.profile.Username == req.Username || strings.EqualFold(u.profile.Email, req.Email) {
			return errorJSON(c, fiber.StatusConflict, "User already exists")
		}
	}
	profile := s.addUserLocked(req.Username, req.Email, hash)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "User registered successfully", "user": profile})
}

func (s *Server) listPosts(c *fiber.Ctx) error {
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 10)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Post
	for _, p := range s.sortedPostsLocked() {
		if q != "" && !strings.Contains(strings.ToLower(p.Title+" "+p.Content), q) {
			continue
		}
		matched = append(matched, s.renderPostLocked(p))
	}

	start := (page - 1) * limit
	if start >= len(matched) {
		return c.JSON([]models.Post{})
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return c.JSON(matched[start:end])
}

func (s *Server) getPost(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "Post not found")
	}
	return c.JSON(s.renderPostLocked(p))
}

type createPostBody struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	ImageURL *string `json:"image_url"`
}

func (s *Server) createPost(c *fiber.Ctx) error {
	var req createPostBody
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Title and content are required")
	}
	image := ""
	if req.ImageURL != nil {
		image = *req.ImageURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.addPostLocked(currentUser(c), req.Title, req.Content, image)
	if !s.opts.EchoCreated {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Post created"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"post": s.renderPostLocked(p)})
}

func (s *Server) deletePost(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "Post not found")
	}
	if p.UserID != currentUser(c) {
		return errorJSON(c, fiber.StatusForbidden, "Not allowed")
	}
	delete(s.posts, id)
	for cid, cm := range s.comments {
		if cm.PostID == id {
			delete(s.comments, cid)
		}
	}
	return c.JSON(fiber.Map{"message": "Post deleted"})
}

func (s *Server) toggleLike(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post ID")
	}
	uid := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "Post not found")
	}
	liked := !s.likes[uid][id]
	setFlag(s.likes, uid, id, liked)
	if !s.opts.EchoToggles {
		return c.JSON(fiber.Map{"message": "ok"})
	}
	return c.JSON(fiber.Map{"liked": liked, "likes_count": s.renderPostLocked(p).LikesCount})
}

func (s *Server) toggleFavorite(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post ID")
	}
	uid := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return errorJSON(c, fiber.StatusNotFound, "Post not found")
	}
	fav := !s.favorites[uid][id]
	setFlag(s.favorites, uid, id, fav)
	if !s.opts.EchoToggles {
		return c.JSON(fiber.Map{"message": "ok"})
	}
	return c.JSON(fiber.Map{"favorited": fav})
}

func (s *Server) listComments(c *fiber.Ctx) error {
	postID, ok := paramID(c, "postId")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Comment{}
	for _, cm := range s.comments {
		if cm.PostID == postID {
			out = append(out, *cm)
		}
	}
	sortComments(out)
	return c.JSON(out)
}

func (s *Server) createComment(c *fiber.Ctx) error {
	postID, ok := paramID(c, "postId")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post ID")
	}
	var req models.CommentRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Content is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return errorJSON(c, fiber.StatusNotFound, "Post not found")
	}
	cm := s.addCommentLocked(currentUser(c), postID, req.Content)
	if !s.opts.EchoCreated {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Comment created"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Comment created", "comment": cm})
}

func (s *Server) updateComment(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid comment ID")
	}
	var req models.CommentRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Content is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cm, ok := s.comments[id]
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "Comment not found")
	}
	if cm.UserID != currentUser(c) {
		return errorJSON(c, fiber.StatusForbidden, "Not allowed")
	}
	cm.Content = req.Content
	cm.UpdatedAt = time.Now().UTC()
	if !s.opts.EchoCreated {
		return c.JSON(fiber.Map{"message": "Comment updated"})
	}
	return c.JSON(fiber.Map{"comment": cm})
}

func (s *Server) deleteComment(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid comment ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cm, ok := s.comments[id]
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "Comment not found")
	}
	if cm.UserID != currentUser(c) {
		return errorJSON(c, fiber.StatusForbidden, "Not allowed")
	}
	delete(s.comments, id)
	return c.JSON(fiber.Map{"message": "Comment deleted"})
}

func (s *Server) userLikes(c *fiber.Ctx) error {
	return s.userSet(c, s.likes)
}

func (s *Server) userFavorites(c *fiber.Ctx) error {
	return s.userSet(c, s.favorites)
}

func (s *Server) userSet(c *fiber.Ctx, m map[uint]map[uint]bool) error {
	uid, ok := paramID(c, "id")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid user ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []fiber.Map{}
	for postID := range m[uid] {
		out = append(out, fiber.Map{"post_id": postID})
	}
	return c.JSON(out)
}

func (s *Server) uploadImage(c *fiber.Ctx) error {
	fh, err := c.FormFile("postImage")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "postImage is required")
	}
	f, err := fh.Open()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to read upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to read upload")
	}

	p := "/uploads/posts/" + path.Base(fh.Filename)
	s.mu.Lock()
	s.uploads[p] = data
	s.mu.Unlock()
	return c.JSON(fiber.Map{"imageUrl": p})
}

func sortComments(cs []models.Comment) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}
