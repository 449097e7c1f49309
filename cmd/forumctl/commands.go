package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"strconv"
	"strings"

	"forumclient/internal/media"
	"forumclient/internal/models"
	"forumclient/internal/service"
	"forumclient/internal/viewstate"
)

// usageError reports malformed arguments for the named command.
type usageError struct {
	command string
}

func (e usageError) Error() string { return "invalid arguments for " + e.command }

func usageOf(name string) error {
	return usageError{command: name}
}

func parseID(name, value string) (uint, error) {
	id, err := strconv.ParseUint(value, 10, strconv.IntSize)
	if err != nil || id == 0 {
		return 0, usageOf(name)
	}
	return uint(id), nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func runLogin(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return usageOf("login")
	}
	sess, err := a.auth.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return a.out.session(sess)
}

func runRegister(ctx context.Context, a *app, args []string) error {
	if len(args) != 3 {
		return usageOf("register")
	}
	resp, err := a.auth.Register(ctx, service.RegisterInput{
		Username: args[0],
		Email:    args[1],
		Password: args[2],
	})
	if err != nil {
		return err
	}
	return a.out.message(resp.Message + ". You can now log in.")
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	return a.out.message("Signed out.")
}

func runWhoami(_ context.Context, a *app, _ []string) error {
	return a.out.session(a.store.Snapshot())
}

func runProfile(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 || args[0] != "set" {
		return usageOf("profile")
	}
	fs := newFlagSet("profile set")
	username := fs.String("username", "", "new username")
	email := fs.String("email", "", "new email")
	bio := fs.String("bio", "", "new bio")
	picture := fs.String("picture", "", "new profile picture URL")
	if err := fs.Parse(args[1:]); err != nil {
		return usageOf("profile")
	}

	var patch models.ProfilePatch
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "username":
			patch.Username = username
		case "email":
			patch.Email = email
		case "bio":
			patch.Bio = bio
		case "picture":
			patch.ProfilePictureURL = picture
		}
	})
	if _, err := a.store.UpdateProfile(ctx, patch); err != nil {
		return err
	}
	return a.out.session(a.store.Snapshot())
}

func runFeed(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("feed")
	query := fs.String("q", "", "search term")
	pages := fs.Int("pages", 1, "number of pages to load")
	if err := fs.Parse(args); err != nil || *pages < 1 {
		return usageOf("feed")
	}

	f := a.feed()
	defer f.Close()

	var err error
	if strings.TrimSpace(*query) != "" {
		err = f.Search(ctx, *query)
	} else {
		err = f.Refresh(ctx)
	}
	if err != nil {
		return err
	}
	for i := 1; i < *pages && f.Snapshot().HasMore; i++ {
		if err := f.LoadMore(ctx); err != nil {
			return err
		}
	}
	return a.out.feed(f.Snapshot())
}

func runShow(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return usageOf("show")
	}
	id, err := parseID("show", args[0])
	if err != nil {
		return err
	}
	d := a.detail(id)
	defer d.Close()
	if err := d.Load(ctx); err != nil {
		return err
	}
	return a.out.detail(d.Snapshot())
}

func runPost(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("post")
	title := fs.String("title", "", "post title")
	content := fs.String("content", "", "post content")
	image := fs.String("image", "", "image file under MEDIA_DIR")
	if err := fs.Parse(args); err != nil {
		return usageOf("post")
	}

	f := a.feed()
	defer f.Close()
	f.SetDraft(viewstate.Draft{Title: *title, Content: *content})

	if *image != "" {
		picker := &media.FilePicker{Root: a.cfg.MediaDir, Selected: *image}
		if err := f.AttachImage(ctx, picker); err != nil {
			if !errors.Is(err, media.ErrPermissionDenied) {
				return err
			}
			// The post is still created, only without the image.
			a.out.warn("Image access denied, posting without an image.")
		}
	}

	created, err := f.SubmitDraft(ctx)
	if err != nil {
		return err
	}
	snap := f.Snapshot()
	if created == nil {
		// Without an echo the feed was reloaded and the new post is on top.
		if len(snap.Posts) == 0 {
			return a.out.message("Post created.")
		}
		return a.out.post(snap.Posts[0])
	}
	for _, p := range snap.Posts {
		if p.ID == created.ID {
			return a.out.post(p)
		}
	}
	return a.out.post(viewstate.PostView{Post: *created, CanModify: true})
}

func runLike(ctx context.Context, a *app, args []string) error {
	return toggleCommand(ctx, a, "like", args, true)
}

func runFavorite(ctx context.Context, a *app, args []string) error {
	return toggleCommand(ctx, a, "favorite", args, false)
}

func toggleCommand(ctx context.Context, a *app, name string, args []string, like bool) error {
	if len(args) != 1 {
		return usageOf(name)
	}
	id, err := parseID(name, args[0])
	if err != nil {
		return err
	}
	d := a.detail(id)
	defer d.Close()
	if err := d.Load(ctx); err != nil {
		return err
	}
	if like {
		err = d.ToggleLike(ctx, id)
	} else {
		err = d.ToggleFavorite(ctx, id)
	}
	if err != nil {
		return err
	}
	snap := d.Snapshot()
	if snap.Post == nil {
		return models.NewNotFoundError("post", id)
	}
	return a.out.post(*snap.Post)
}

func runDeletePost(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return usageOf("delete-post")
	}
	id, err := parseID("delete-post", args[0])
	if err != nil {
		return err
	}
	d := a.detail(id)
	defer d.Close()
	if err := d.Load(ctx); err != nil {
		return err
	}
	if err := d.DeletePost(ctx, id); err != nil {
		return err
	}
	return a.out.message("Post deleted.")
}

func runComment(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return usageOf("comment")
	}
	id, err := parseID("comment", args[0])
	if err != nil {
		return err
	}
	d := a.detail(id)
	defer d.Close()
	if err := d.Load(ctx); err != nil {
		return err
	}
	if err := d.CreateComment(ctx, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	return a.out.detail(d.Snapshot())
}

func runEditComment(ctx context.Context, a *app, args []string) error {
	if len(args) < 3 {
		return usageOf("edit-comment")
	}
	postID, err := parseID("edit-comment", args[0])
	if err != nil {
		return err
	}
	commentID, err := parseID("edit-comment", args[1])
	if err != nil {
		return err
	}
	d := a.detail(postID)
	defer d.Close()
	if err := d.Load(ctx); err != nil {
		return err
	}
	if err := d.EditComment(ctx, commentID, strings.Join(args[2:], " ")); err != nil {
		return err
	}
	return a.out.detail(d.Snapshot())
}

func runDeleteComment(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return usageOf("delete-comment")
	}
	postID, err := parseID("delete-comment", args[0])
	if err != nil {
		return err
	}
	commentID, err := parseID("delete-comment", args[1])
	if err != nil {
		return err
	}
	d := a.detail(postID)
	defer d.Close()
	if err := d.Load(ctx); err != nil {
		return err
	}
	if err := d.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	return a.out.message("Comment deleted.")
}

func runFlags(_ context.Context, a *app, _ []string) error {
	return a.out.flags(a.flags.Snapshot(a.userID()))
}
