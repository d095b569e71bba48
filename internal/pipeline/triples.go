package pipeline

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// Predicates of the normalized fact vocabulary.
const (
	PredAPI             = "api"
	PredType            = "type"
	PredID              = "id"
	PredURL             = "url"
	PredTitle           = "title"
	PredContent         = "content"
	PredLanguage        = "language"
	PredPublicationDate = "publication_date"
	PredLocation        = "location"
	PredOutlink         = "outlink"
	PredFromUser        = "from_user"
	PredToUser          = "to_user"
	PredName            = "name"
	PredNickname        = "nickname"
	PredPictureURL      = "picture_url"
	PredHasPost         = "has_post"
	PredIsMentionedBy   = "is_mentioned_by"
)

// Mapping is what a Mapper derives from one content item.
type Mapping struct {
	// Subject is the node outlinks hang off: the post, or the user for
	// user-only records.
	Subject string
	Triples []crawler.Triple
}

// Mapper projects one content item into facts. It returns an error wrapping
// crawler.ErrItemRejected when the item lacks its identifying field.
type Mapper func(item any) (Mapping, error)

// PostSubject is the URN of a post.
func PostSubject(platform, id string) string { return platform + "/post/" + id }

// UserSubject is the URN of a user.
func UserSubject(platform, id string) string { return platform + "/user/" + id }

// facts accumulates triples, dropping those with an empty object.
type facts struct {
	platform string
	triples  []crawler.Triple
}

func (f *facts) add(s, p, o string) {
	if s == "" || o == "" {
		return
	}
	f.triples = append(f.triples, crawler.Triple{Subject: s, Predicate: p, Object: o})
}

// post starts a post node and returns its subject.
func (f *facts) post(id string) string {
	s := PostSubject(f.platform, id)
	f.add(s, PredAPI, f.platform)
	f.add(s, PredType, "post")
	f.add(s, PredID, id)
	return s
}

type user struct {
	id, url, name, nickname, picture, location string
}

// user adds a user node and returns its subject, or "" without an id.
func (f *facts) user(u user) string {
	if u.id == "" {
		return ""
	}
	s := UserSubject(f.platform, u.id)
	f.add(s, PredAPI, f.platform)
	f.add(s, PredType, "user")
	f.add(s, PredID, u.id)
	f.add(s, PredURL, u.url)
	f.add(s, PredName, u.name)
	f.add(s, PredNickname, u.nickname)
	f.add(s, PredPictureURL, u.picture)
	f.add(s, PredLocation, u.location)
	return s
}

func (f *facts) author(post, userSubject string) {
	if userSubject == "" {
		return
	}
	f.add(post, PredFromUser, userSubject)
	f.add(userSubject, PredHasPost, post)
}

func (f *facts) mention(post, userSubject string) {
	if userSubject == "" {
		return
	}
	f.add(post, PredToUser, userSubject)
	f.add(userSubject, PredIsMentionedBy, post)
}

func reject(platform, field string) error {
	return fmt.Errorf("%w: %s item has no %s", crawler.ErrItemRejected, platform, field)
}

func str(item any, path string) string {
	s, _ := crawler.LookupString(item, path)
	return s
}

func list(item any, path string) []any {
	v, ok := crawler.Lookup(item, path)
	if !ok {
		return nil
	}
	l, _ := v.([]any)
	return l
}

// DefaultMappers returns the mapping table keyed by "server/interaction".
func DefaultMappers() map[string]Mapper {
	return map[string]Mapper{
		"facebook/search":               mapFacebookPost,
		"facebook/users":                mapFacebookUser,
		"flickr/photos_search":          mapFlickrPhoto,
		"google_plus/activities_search": mapGooglePlusActivity,
		"twitter-search/search":         mapTweet,
		"youtube/search":                mapYouTubeEntry,
	}
}

func mapTweet(item any) (Mapping, error) {
	f := &facts{platform: "twitter"}
	id := str(item, "id_str")
	if id == "" {
		id = str(item, "id")
	}
	if id == "" {
		return Mapping{}, reject(f.platform, "id")
	}
	post := f.post(id)
	fromUser := str(item, "from_user")
	if fromUser != "" {
		f.add(post, PredURL, "http://twitter.com/"+fromUser+"/status/"+id)
	}
	f.add(post, PredContent, str(item, "text"))
	f.add(post, PredLanguage, str(item, "iso_language_code"))
	f.add(post, PredPublicationDate, str(item, "created_at"))
	f.add(post, PredLocation, geoString(item, "geo"))
	author := f.user(user{
		id:       str(item, "from_user_id"),
		nickname: fromUser,
		name:     str(item, "from_user_name"),
		picture:  str(item, "profile_image_url"),
		url:      profileURL("http://twitter.com/", fromUser),
	})
	f.author(post, author)
	for _, m := range list(item, "entities.user_mentions") {
		nick := str(m, "screen_name")
		f.mention(post, f.user(user{
			id:       str(m, "id"),
			name:     str(m, "name"),
			nickname: nick,
			url:      profileURL("http://twitter.com/", nick),
		}))
	}
	return Mapping{Subject: post, Triples: f.triples}, nil
}

func mapFacebookPost(item any) (Mapping, error) {
	f := &facts{platform: "facebook"}
	id := str(item, "id")
	if id == "" {
		return Mapping{}, reject(f.platform, "id")
	}
	post := f.post(id)
	f.add(post, PredURL, "http://www.facebook.com/"+id)
	f.add(post, PredTitle, str(item, "name"))
	content := str(item, "message")
	if content == "" {
		content = str(item, "caption")
	}
	f.add(post, PredContent, content)
	f.add(post, PredPublicationDate, str(item, "updated_time"))
	fromID := str(item, "from.id")
	f.author(post, f.user(user{
		id:   fromID,
		name: str(item, "from.name"),
		url:  profileURL("http://www.facebook.com/", fromID),
	}))
	for _, path := range []string{"likes.data", "to.data"} {
		for _, u := range list(item, path) {
			uid := str(u, "id")
			f.mention(post, f.user(user{
				id:   uid,
				name: str(u, "name"),
				url:  profileURL("http://www.facebook.com/", uid),
			}))
		}
	}
	return Mapping{Subject: post, Triples: f.triples}, nil
}

func mapFacebookUser(item any) (Mapping, error) {
	f := &facts{platform: "facebook"}
	id := str(item, "id")
	if id == "" {
		return Mapping{}, reject(f.platform, "id")
	}
	subject := f.user(user{
		id:       id,
		name:     str(item, "name"),
		nickname: str(item, "username"),
		location: str(item, "location.name"),
		url:      str(item, "link"),
	})
	if subject != "" && str(item, "link") == "" {
		f.add(subject, PredURL, "http://www.facebook.com/"+id)
	}
	return Mapping{Subject: subject, Triples: f.triples}, nil
}

func mapFlickrPhoto(item any) (Mapping, error) {
	f := &facts{platform: "flickr"}
	id := str(item, "id")
	if id == "" {
		return Mapping{}, reject(f.platform, "id")
	}
	post := f.post(id)
	owner := str(item, "owner")
	if owner != "" {
		f.add(post, PredURL, "http://www.flickr.com/"+owner+"/"+id)
	}
	f.add(post, PredTitle, str(item, "title"))
	f.author(post, f.user(user{
		id:  owner,
		url: profileURL("http://www.flickr.com/", owner),
	}))
	return Mapping{Subject: post, Triples: f.triples}, nil
}

func mapGooglePlusActivity(item any) (Mapping, error) {
	f := &facts{platform: "google_plus"}
	id := str(item, "id")
	if id == "" {
		return Mapping{}, reject(f.platform, "id")
	}
	post := f.post(id)
	f.add(post, PredURL, str(item, "url"))
	f.add(post, PredTitle, str(item, "title"))
	f.add(post, PredContent, str(item, "object.content"))
	f.add(post, PredPublicationDate, str(item, "published"))
	f.author(post, f.user(user{
		id:      str(item, "actor.id"),
		url:     str(item, "actor.url"),
		name:    str(item, "actor.displayName"),
		picture: str(item, "actor.image.url"),
	}))
	return Mapping{Subject: post, Triples: f.triples}, nil
}

func mapYouTubeEntry(item any) (Mapping, error) {
	f := &facts{platform: "youtube"}
	raw := str(item, "id.$t")
	id := raw[strings.LastIndex(raw, "/")+1:]
	if id == "" {
		return Mapping{}, reject(f.platform, "id.$t")
	}
	post := f.post(id)
	f.add(post, PredURL, "http://www.youtube.com/watch?v="+id)
	f.add(post, PredTitle, str(item, "title.$t"))
	f.add(post, PredContent, str(item, "content.$t"))
	f.add(post, PredPublicationDate, str(item, "published.$t"))
	if authors := list(item, "author"); len(authors) > 0 {
		name := str(authors[0], "name.$t")
		f.author(post, f.user(user{
			id:       name,
			nickname: name,
			url:      profileURL("http://www.youtube.com/user/", name),
		}))
	}
	return Mapping{Subject: post, Triples: f.triples}, nil
}

func profileURL(prefix, handle string) string {
	if handle == "" {
		return ""
	}
	return prefix + handle
}

// geoString renders a GeoJSON-ish point as "lat,lon".
func geoString(item any, path string) string {
	coords := list(item, path+".coordinates")
	if len(coords) != 2 {
		return str(item, path)
	}
	lat, lon := crawler.Stringify(coords[0]), crawler.Stringify(coords[1])
	if lat == "" || lon == "" {
		return ""
	}
	return lat + "," + lon
}
