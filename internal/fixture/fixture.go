// Package fixture provides a shared schema and a paginated post feed used
// by tests across packages. Posts P1..P10 carry cursors c1..c10; pages are
// cut the way a Relay server would cut them.
package fixture

import (
	"strconv"

	"github.com/goccy/go-json"

	"github.com/hanpama/graphcache/internal/schema"
)

const SDL = `
interface Node { id: ID! }

type User implements Node {
  id: ID!
  name: String
  posts(first: Int, after: String, last: Int, before: String, orderBy: PostOrder = NEWEST): PostConnection
}

type Post implements Node {
  id: ID!
  title: String
  author: User
}

type Photo implements Node {
  id: ID!
  url: String
}

union SearchResult = Post | User | Photo

enum PostOrder { NEWEST OLDEST }

type PageInfo {
  hasNextPage: Boolean!
  hasPreviousPage: Boolean!
  startCursor: String
  endCursor: String
}

type PostEdge {
  cursor: String!
  node: Post
}

type PostConnection {
  edges: [PostEdge]
  pageInfo: PageInfo!
  totalCount: Int
}

type Stats {
  postCount: Int
  viewCount: Int
}

type Query {
  viewer: User
  node(id: ID!): Node
  post(id: ID!): Post
  posts(first: Int, after: String, last: Int, before: String): PostConnection
  feed(first: Int, after: String, last: Int, before: String): [Post]
  search(term: String!): [SearchResult]
  tags: [String]
  stats: Stats
}

type Mutation {
  likePost(id: ID!): Post
}
`

// PostsQuery fetches one window of the root posts connection.
const PostsQuery = `query Posts($first: Int, $after: String, $last: Int, $before: String) {
  posts(first: $first, after: $after, last: $last, before: $before) {
    edges {
      cursor
      node { id title author { id name } }
    }
    pageInfo { hasNextPage hasPreviousPage startCursor endCursor }
  }
}`

// Total is the number of posts in the feed.
const Total = 10

// MustSchema builds the fixture schema and panics if it does not load.
func MustSchema() *schema.Schema {
	s, err := schema.BuildFromSDL(SDL)
	if err != nil {
		panic(err)
	}
	return s
}

// Request is one query with its variables and the data a server returns.
type Request struct {
	Query     string
	Variables map[string]any
	Data      []byte
}

func Cursor(i int) string { return "c" + strconv.Itoa(i) }

func PostID(i int) string { return strconv.Itoa(i) }

func PostTitle(i int) string { return "Post " + strconv.Itoa(i) }

// AuthorID is the author of post i; posts alternate between two users.
func AuthorID(i int) string { return strconv.Itoa(i%2 + 1) }

func AuthorName(id string) string { return "User " + id }

// Forward returns the page of count posts after post after (0: from the
// start).
func Forward(count, after int) Request {
	vars := map[string]any{"first": count}
	if after > 0 {
		vars["after"] = Cursor(after)
	}
	from := after + 1
	to := min(after+count, Total)
	return Request{Query: PostsQuery, Variables: vars, Data: page(from, to)}
}

// Backward returns the page of count posts before post before (0: from
// the end).
func Backward(count, before int) Request {
	vars := map[string]any{"last": count}
	to := Total
	if before > 0 {
		vars["before"] = Cursor(before)
		to = before - 1
	}
	from := max(to-count+1, 1)
	return Request{Query: PostsQuery, Variables: vars, Data: page(from, to)}
}

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type post struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author user   `json:"author"`
}

type edge struct {
	Cursor string `json:"cursor"`
	Node   post   `json:"node"`
}

type pageInfo struct {
	HasNextPage     bool    `json:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
	StartCursor     *string `json:"startCursor"`
	EndCursor       *string `json:"endCursor"`
}

type connection struct {
	Edges    []edge   `json:"edges"`
	PageInfo pageInfo `json:"pageInfo"`
}

// page renders posts from..to inclusive as the data of PostsQuery.
func page(from, to int) []byte {
	conn := connection{Edges: []edge{}}
	for i := from; i <= to; i++ {
		a := AuthorID(i)
		conn.Edges = append(conn.Edges, edge{
			Cursor: Cursor(i),
			Node:   post{ID: PostID(i), Title: PostTitle(i), Author: user{ID: a, Name: AuthorName(a)}},
		})
	}
	conn.PageInfo.HasPreviousPage = from > 1
	conn.PageInfo.HasNextPage = to < Total
	if len(conn.Edges) > 0 {
		start, end := Cursor(from), Cursor(to)
		conn.PageInfo.StartCursor, conn.PageInfo.EndCursor = &start, &end
	}
	b, err := json.Marshal(map[string]any{"posts": conn})
	if err != nil {
		panic(err)
	}
	return b
}

// PostKeys lists the entity keys of posts from..to inclusive.
func PostKeys(from, to int) []string {
	var keys []string
	for i := from; i <= to; i++ {
		keys = append(keys, "Post:"+PostID(i))
	}
	return keys
}
