package viewstate

import (
	"testing"

	"forumclient/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_LikeToggleSequenceCount(t *testing.T) {
	for _, start := range []int{0, 1, 5} {
		for n := 0; n <= 9; n++ {
			table := NewTable()
			table.UpsertPosts(models.Post{ID: 1, LikesCount: start})

			for i := 0; i < n; i++ {
				_, ok := table.applyToggle(ActionLike, 1)
				require.True(t, ok)
			}

			p, _ := table.Post(1)
			assert.Equal(t, start+n%2, p.LikesCount, "start=%d n=%d", start, n)
			assert.Equal(t, n%2 == 1, p.Liked)
		}
	}
}

func TestTable_UnlikeClampsAtZero(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1, LikesCount: 0})
	table.ReplaceUserSets([]models.UserLike{{PostID: 1}}, nil)

	undo, ok := table.applyToggle(ActionLike, 1)
	require.True(t, ok)
	p, _ := table.Post(1)
	assert.Equal(t, 0, p.LikesCount)
	assert.False(t, p.Liked)

	table.undoToggle(ActionLike, 1, undo)
	p, _ = table.Post(1)
	assert.Equal(t, 0, p.LikesCount)
	assert.True(t, p.Liked)
}

func TestTable_UndoRestores(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1, LikesCount: 4})

	undo, _ := table.applyToggle(ActionLike, 1)
	table.undoToggle(ActionLike, 1, undo)
	favUndo, _ := table.applyToggle(ActionFavorite, 1)
	table.undoToggle(ActionFavorite, 1, favUndo)

	p, _ := table.Post(1)
	assert.Equal(t, 4, p.LikesCount)
	assert.False(t, p.Liked)
	assert.False(t, p.Favorited)
}

func TestTable_ConfirmTakesServerValues(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1, LikesCount: 4})
	table.applyToggle(ActionLike, 1)

	liked, count := true, 9
	table.confirmLike(1, &models.LikeResult{Liked: &liked, LikesCount: &count})

	p, _ := table.Post(1)
	assert.Equal(t, 9, p.LikesCount)
	assert.True(t, p.Liked)

	table.confirmLike(1, &models.LikeResult{})
	p, _ = table.Post(1)
	assert.Equal(t, 9, p.LikesCount, "missing echo fields keep the current value")
}

func TestTable_BeginRefusesDuplicate(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1})

	require.NoError(t, table.begin(ActionLike, 1))
	assert.ErrorIs(t, table.begin(ActionLike, 1), ErrActionInProgress)
	assert.NoError(t, table.begin(ActionFavorite, 1))
	assert.ErrorIs(t, table.begin(ActionLike, 2), ErrUnknownPost)
	assert.True(t, table.Busy(ActionLike, 1))

	table.end(ActionLike, 1)
	assert.False(t, table.Busy(ActionLike, 1))
}

func TestTable_ReplaceUserSetsKeepsPendingFlags(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1}, models.Post{ID: 2})
	require.NoError(t, table.begin(ActionLike, 1))
	table.applyToggle(ActionLike, 1)

	table.ReplaceUserSets([]models.UserLike{{PostID: 2}}, nil)

	p1, _ := table.Post(1)
	p2, _ := table.Post(2)
	assert.True(t, p1.Liked, "optimistic flag survives a set reload")
	assert.True(t, p2.Liked)
}

func TestTable_UpsertIgnoresPayloadFlags(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1, Liked: true, Favorited: true})

	p, _ := table.Post(1)
	assert.False(t, p.Liked)
	assert.False(t, p.Favorited)
}

func TestTable_Comments(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1, CommentsCount: 1})
	table.SetComments(1, []models.Comment{{ID: 10, PostID: 1, Content: "a"}, {ID: 10, PostID: 1}})

	table.prependComment(models.Comment{ID: 11, PostID: 1, Content: "b"})
	got := table.Comments(1)
	require.Len(t, got, 2)
	assert.Equal(t, uint(11), got[0].ID)
	p, _ := table.Post(1)
	assert.Equal(t, 2, p.CommentsCount)

	assert.True(t, table.replaceComment(models.Comment{ID: 10, PostID: 1, Content: "edited"}))
	assert.False(t, table.replaceComment(models.Comment{ID: 99}))
	c, _ := table.Comment(10)
	assert.Equal(t, "edited", c.Content)

	assert.True(t, table.removeComment(10))
	assert.True(t, table.removeComment(11))
	assert.False(t, table.removeComment(11))
	p, _ = table.Post(1)
	assert.Equal(t, 0, p.CommentsCount)
	assert.Empty(t, table.Comments(1))
}

func TestTable_RemoveCommentClampsCount(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1, CommentsCount: 0})
	table.SetComments(1, []models.Comment{{ID: 10, PostID: 1}})

	table.removeComment(10)

	p, _ := table.Post(1)
	assert.Equal(t, 0, p.CommentsCount)
}

func TestTable_RemovePostDropsComments(t *testing.T) {
	table := NewTable()
	table.UpsertPosts(models.Post{ID: 1}, models.Post{ID: 2})
	table.SetComments(1, []models.Comment{{ID: 10, PostID: 1}})

	table.RemovePost(1)

	assert.False(t, table.HasPost(1))
	_, ok := table.Comment(10)
	assert.False(t, ok)
	assert.Len(t, table.Posts([]uint{1, 2}), 1)
}
