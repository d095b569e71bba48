package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

func objects(triples []crawler.Triple, subject, predicate string) []string {
	var out []string
	for _, tr := range triples {
		if tr.Subject == subject && tr.Predicate == predicate {
			out = append(out, tr.Object)
		}
	}
	return out
}

func TestMapTweet(t *testing.T) {
	t.Parallel()

	item := decode(t, `{
		"id_str": "123", "id": 123,
		"from_user": "jack", "from_user_id": 12, "from_user_name": "Jack D",
		"profile_image_url": "http://img.example.com/jack.png",
		"text": "hello", "iso_language_code": "en",
		"created_at": "Wed, 21 Mar 2012 20:50:14 +0000",
		"geo": {"type": "Point", "coordinates": [37.5, -122.25]},
		"entities": {"user_mentions": [{"id": 99, "screen_name": "biz", "name": "Biz"}]}
	}`)
	m, err := mapTweet(item)
	require.NoError(t, err)

	post := "twitter/post/123"
	require.Equal(t, post, m.Subject)
	require.Equal(t, []string{"twitter"}, objects(m.Triples, post, PredAPI))
	require.Equal(t, []string{"post"}, objects(m.Triples, post, PredType))
	require.Equal(t, []string{"http://twitter.com/jack/status/123"}, objects(m.Triples, post, PredURL))
	require.Equal(t, []string{"hello"}, objects(m.Triples, post, PredContent))
	require.Equal(t, []string{"en"}, objects(m.Triples, post, PredLanguage))
	require.Equal(t, []string{"37.5,-122.25"}, objects(m.Triples, post, PredLocation))
	require.Equal(t, []string{"twitter/user/12"}, objects(m.Triples, post, PredFromUser))
	require.Equal(t, []string{post}, objects(m.Triples, "twitter/user/12", PredHasPost))
	require.Equal(t, []string{"jack"}, objects(m.Triples, "twitter/user/12", PredNickname))
	require.Equal(t, []string{"twitter/user/99"}, objects(m.Triples, post, PredToUser))
	require.Equal(t, []string{post}, objects(m.Triples, "twitter/user/99", PredIsMentionedBy))
	require.Empty(t, objects(m.Triples, post, PredTitle))
	for _, tr := range m.Triples {
		require.NotEmpty(t, tr.Object)
	}
}

func TestMappersRejectItemsWithoutID(t *testing.T) {
	t.Parallel()

	for route, mapper := range DefaultMappers() {
		m, err := mapper(decode(t, `{"text":"no id here","title":{"$t":"x"}}`))
		require.ErrorIs(t, err, crawler.ErrItemRejected, route)
		require.Empty(t, m.Triples, route)
	}
}

func TestMapFacebookPost(t *testing.T) {
	t.Parallel()

	m, err := mapFacebookPost(decode(t, `{
		"id": "1_2", "name": "Title", "caption": "cap", "updated_time": "2012-03-01T10:00:00+0000",
		"from": {"id": "1", "name": "Alice"},
		"likes": {"data": [{"id": "3", "name": "Bob"}]},
		"to": {"data": [{"id": "4", "name": "Carol"}]}
	}`))
	require.NoError(t, err)
	post := "facebook/post/1_2"
	require.Equal(t, []string{"http://www.facebook.com/1_2"}, objects(m.Triples, post, PredURL))
	require.Equal(t, []string{"Title"}, objects(m.Triples, post, PredTitle))
	require.Equal(t, []string{"cap"}, objects(m.Triples, post, PredContent))
	require.Equal(t, []string{"facebook/user/1"}, objects(m.Triples, post, PredFromUser))
	require.ElementsMatch(t, []string{"facebook/user/3", "facebook/user/4"}, objects(m.Triples, post, PredToUser))
}

func TestMapFacebookUser(t *testing.T) {
	t.Parallel()

	m, err := mapFacebookUser(decode(t, `{"id":"4","name":"Mark","username":"zuck","location":{"name":"Palo Alto"}}`))
	require.NoError(t, err)
	u := "facebook/user/4"
	require.Equal(t, u, m.Subject)
	require.Equal(t, []string{"user"}, objects(m.Triples, u, PredType))
	require.Equal(t, []string{"zuck"}, objects(m.Triples, u, PredNickname))
	require.Equal(t, []string{"Palo Alto"}, objects(m.Triples, u, PredLocation))
	require.Equal(t, []string{"http://www.facebook.com/4"}, objects(m.Triples, u, PredURL))
}

func TestMapFlickrGooglePlusYouTube(t *testing.T) {
	t.Parallel()

	m, err := mapFlickrPhoto(decode(t, `{"id":"77","owner":"o@N0","title":"sunset"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"http://www.flickr.com/o@N0/77"}, objects(m.Triples, "flickr/post/77", PredURL))
	require.Equal(t, []string{"flickr/user/o@N0"}, objects(m.Triples, "flickr/post/77", PredFromUser))

	m, err = mapGooglePlusActivity(decode(t, `{
		"id":"z1","url":"https://plus.google.com/1/posts/z1","title":"t","published":"2012-01-01T00:00:00Z",
		"object":{"content":"body"},
		"actor":{"id":"1","displayName":"Ann","url":"https://plus.google.com/1","image":{"url":"https://img/1"}}
	}`))
	require.NoError(t, err)
	post := "google_plus/post/z1"
	require.Equal(t, []string{"body"}, objects(m.Triples, post, PredContent))
	require.Equal(t, []string{"https://img/1"}, objects(m.Triples, "google_plus/user/1", PredPictureURL))

	m, err = mapYouTubeEntry(decode(t, `{
		"id":{"$t":"http://gdata.youtube.com/feeds/api/videos/abc123"},
		"title":{"$t":"clip"},"content":{"$t":"desc"},"published":{"$t":"2012-02-02T00:00:00.000Z"},
		"author":[{"name":{"$t":"chan"}}]
	}`))
	require.NoError(t, err)
	post = "youtube/post/abc123"
	require.Equal(t, post, m.Subject)
	require.Equal(t, []string{"http://www.youtube.com/watch?v=abc123"}, objects(m.Triples, post, PredURL))
	require.Equal(t, []string{"youtube/user/chan"}, objects(m.Triples, post, PredFromUser))
}
