package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"forumclient/internal/session"
	"forumclient/internal/viewstate"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// printer renders command results to stdout in the selected format.
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case formatText, formatJSON, formatYAML:
		return &printer{w: w, format: format}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

type sessionOutput struct {
	State    string `json:"state" yaml:"state"`
	UserID   uint   `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
	Bio      string `json:"bio,omitempty" yaml:"bio,omitempty"`
	Picture  string `json:"profile_picture_url,omitempty" yaml:"profile_picture_url,omitempty"`
}

type postOutput struct {
	ID            uint      `json:"id" yaml:"id"`
	Title         string    `json:"title" yaml:"title"`
	Content       string    `json:"content" yaml:"content"`
	ImageURL      string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Author        string    `json:"author,omitempty" yaml:"author,omitempty"`
	AuthorID      uint      `json:"user_id" yaml:"user_id"`
	LikesCount    int       `json:"likes_count" yaml:"likes_count"`
	CommentsCount int       `json:"comments_count" yaml:"comments_count"`
	Liked         bool      `json:"liked" yaml:"liked"`
	Favorited     bool      `json:"favorited" yaml:"favorited"`
	CanModify     bool      `json:"can_modify" yaml:"can_modify"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
}

type commentOutput struct {
	ID        uint      `json:"id" yaml:"id"`
	Author    string    `json:"author,omitempty" yaml:"author,omitempty"`
	AuthorID  uint      `json:"user_id" yaml:"user_id"`
	Content   string    `json:"content" yaml:"content"`
	CanModify bool      `json:"can_modify" yaml:"can_modify"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type feedOutput struct {
	Query   string       `json:"query,omitempty" yaml:"query,omitempty"`
	Page    int          `json:"page" yaml:"page"`
	HasMore bool         `json:"has_more" yaml:"has_more"`
	Posts   []postOutput `json:"posts" yaml:"posts"`
}

type detailOutput struct {
	Post     *postOutput     `json:"post" yaml:"post"`
	Comments []commentOutput `json:"comments" yaml:"comments"`
}

type messageOutput struct {
	Message string `json:"message" yaml:"message"`
}

func toPostOutput(p viewstate.PostView) postOutput {
	return postOutput{
		ID:            p.ID,
		Title:         p.Title,
		Content:       p.Content,
		ImageURL:      p.ImageURL,
		Author:        p.Username,
		AuthorID:      p.UserID,
		LikesCount:    p.LikesCount,
		CommentsCount: p.CommentsCount,
		Liked:         p.Liked,
		Favorited:     p.Favorited,
		CanModify:     p.CanModify,
		CreatedAt:     p.CreatedAt,
	}
}

func (p *printer) encode(v any) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("encode called for %s output", p.format)
}

func (p *printer) message(msg string) error {
	if p.format != formatText {
		return p.encode(messageOutput{Message: msg})
	}
	_, err := fmt.Fprintln(p.w, msg)
	return err
}

// warn goes to stderr so structured output on stdout stays parseable.
func (p *printer) warn(msg string) {
	fmt.Fprintln(os.Stderr, "Warning: "+msg)
}

func (p *printer) session(s session.Session) error {
	out := sessionOutput{State: s.State.String()}
	if s.User != nil {
		out.UserID = s.User.ID
		out.Username = s.User.Username
		out.Email = s.User.Email
		out.Bio = s.User.Bio
		out.Picture = s.User.ProfilePictureURL
	}
	if p.format != formatText {
		return p.encode(out)
	}
	if !s.Authenticated() {
		_, err := fmt.Fprintln(p.w, "Not signed in.")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "User:\t%s (id %d)\n", out.Username, out.UserID)
	if out.Email != "" {
		fmt.Fprintf(tw, "Email:\t%s\n", out.Email)
	}
	if out.Bio != "" {
		fmt.Fprintf(tw, "Bio:\t%s\n", out.Bio)
	}
	if out.Picture != "" {
		fmt.Fprintf(tw, "Picture:\t%s\n", out.Picture)
	}
	return tw.Flush()
}

func (p *printer) feed(s viewstate.FeedSnapshot) error {
	out := feedOutput{Query: s.Query, Page: s.Page, HasMore: s.HasMore, Posts: make([]postOutput, 0, len(s.Posts))}
	for _, post := range s.Posts {
		out.Posts = append(out.Posts, toPostOutput(post))
	}
	if p.format != formatText {
		return p.encode(out)
	}
	if len(out.Posts) == 0 {
		_, err := fmt.Fprintln(p.w, "No posts.")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tLIKES\tCOMMENTS\tFLAGS")
	for _, post := range out.Posts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			post.ID, truncate(post.Title, 40), post.Author, post.LikesCount, post.CommentsCount, postFlags(post))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if out.HasMore {
		_, err := fmt.Fprintf(p.w, "(page %d, more available)\n", out.Page)
		return err
	}
	return nil
}

func (p *printer) post(v viewstate.PostView) error {
	out := toPostOutput(v)
	if p.format != formatText {
		return p.encode(out)
	}
	return p.writePost(out)
}

func (p *printer) writePost(post postOutput) error {
	fmt.Fprintf(p.w, "#%d %s\n", post.ID, post.Title)
	fmt.Fprintf(p.w, "by %s on %s\n", post.Author, post.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, post.Content)
	if post.ImageURL != "" {
		fmt.Fprintf(p.w, "[image] %s\n", post.ImageURL)
	}
	fmt.Fprintln(p.w)
	_, err := fmt.Fprintf(p.w, "%d likes, %d comments %s\n", post.LikesCount, post.CommentsCount, postFlags(post))
	return err
}

func (p *printer) detail(s viewstate.DetailSnapshot) error {
	out := detailOutput{Comments: make([]commentOutput, 0, len(s.Comments))}
	if s.Post != nil {
		po := toPostOutput(*s.Post)
		out.Post = &po
	}
	for _, c := range s.Comments {
		out.Comments = append(out.Comments, commentOutput{
			ID:        c.ID,
			Author:    c.Username,
			AuthorID:  c.UserID,
			Content:   c.Content,
			CanModify: c.CanModify,
			CreatedAt: c.CreatedAt,
		})
	}
	if p.format != formatText {
		return p.encode(out)
	}
	if out.Post == nil {
		_, err := fmt.Fprintln(p.w, "Post not found.")
		return err
	}
	if err := p.writePost(*out.Post); err != nil {
		return err
	}
	if len(out.Comments) == 0 {
		return nil
	}
	fmt.Fprintln(p.w)
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, c := range out.Comments {
		mark := ""
		if c.CanModify {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%s:\t%s\n", c.ID, mark, c.Author, c.Content)
	}
	return tw.Flush()
}

func (p *printer) flags(flags map[string]bool) error {
	if p.format != formatText {
		return p.encode(flags)
	}
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		state := "off"
		if flags[name] {
			state = "on"
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, state)
	}
	return tw.Flush()
}

func postFlags(p postOutput) string {
	var marks []string
	if p.Liked {
		marks = append(marks, "liked")
	}
	if p.Favorited {
		marks = append(marks, "favorited")
	}
	if p.CanModify {
		marks = append(marks, "mine")
	}
	if len(marks) == 0 {
		return ""
	}
	return "[" + strings.Join(marks, ",") + "]"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
