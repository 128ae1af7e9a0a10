// Package query implements the search path: embed a query string, search
// a collection's in-memory and persisted shards, and merge the two result
// streams into the JSON document returned to callers.
package query

import (
	"context"

	"github.com/localdex/localdex/internal/embedclient"
	"github.com/localdex/localdex/internal/ingest"
	"github.com/localdex/localdex/internal/vectorindex"
)

// ResultVersion is the schema version stamped into every search response.
const ResultVersion = 1

// Hit is one ranked, fully-resolved search result.
type Hit struct {
	Source   string  `json:"source"`
	Content  string  `json:"content"`
	Distance float32 `json:"distance"`
}

// Response is the JSON document returned by Search.
type Response struct {
	Version int   `json:"version"`
	Result  []Hit `json:"result"`
}

// Searcher runs queries against a collection manager's collections.
type Searcher struct {
	manager   *ingest.Manager
	embed     *embedclient.Client
	systemKey string
}

// NewSearcher constructs a Searcher. systemKey names the collection whose
// search results bypass the cache-merge path and are served disk-only.
func NewSearcher(manager *ingest.Manager, embed *embedclient.Client, systemKey string) *Searcher {
	return &Searcher{manager: manager, embed: embed, systemKey: systemKey}
}

// Search embeds query, searches collection key, and returns the merged,
// topK-bounded response.
func (s *Searcher) Search(ctx context.Context, key, queryText string, topK int) (Response, error) {
	vec, err := s.embed.EmbedQuery(ctx, queryText)
	if err != nil {
		return Response{}, err
	}

	c, err := s.manager.Collection(key)
	if err != nil {
		return Response{}, err
	}

	disk, err := c.SearchDisk(vec, topK)
	if err != nil {
		return Response{}, err
	}

	if key == s.systemKey {
		return Response{Version: ResultVersion, Result: s.resolveDiskOnly(ctx, c, disk, topK)}, nil
	}

	cache := c.SearchMem(vec, topK)
	return Response{Version: ResultVersion, Result: s.merge(ctx, c, cache, disk, topK)}, nil
}

// resolveDiskOnly resolves disk hits via the metadata store, dropping any
// id with no live row, and returns up to topK records.
func (s *Searcher) resolveDiskOnly(ctx context.Context, c *ingest.Collection, disk []vectorindex.Hit, topK int) []Hit {
	out := make([]Hit, 0, topK)
	for _, h := range disk {
		if len(out) >= topK {
			break
		}
		row, ok, err := c.Fetch(ctx, h.ID)
		if err != nil || !ok {
			continue
		}
		out = append(out, Hit{Source: row.Source, Content: row.Content, Distance: h.Distance})
	}
	return out
}

// merge performs the two-way ascending-distance merge of cache and disk
// hits described by the search algorithm: ties favor cache, and disk ids
// with no live metadata row are dropped without counting toward topK.
func (s *Searcher) merge(ctx context.Context, c *ingest.Collection, cache, disk []vectorindex.Hit, topK int) []Hit {
	out := make([]Hit, 0, topK)
	i, j := 0, 0

	appendCache := func() bool {
		source, content, ok := c.CacheEntry(cache[i].ID)
		if ok {
			out = append(out, Hit{Source: source, Content: content, Distance: cache[i].Distance})
		}
		i++
		return ok
	}
	appendDisk := func() bool {
		row, ok, err := c.Fetch(ctx, disk[j].ID)
		if err != nil || !ok {
			j++
			return false
		}
		out = append(out, Hit{Source: row.Source, Content: row.Content, Distance: disk[j].Distance})
		j++
		return true
	}

	for i < len(cache) && j < len(disk) && len(out) < topK {
		if cache[i].Distance <= disk[j].Distance {
			appendCache()
		} else {
			appendDisk()
		}
	}
	for i < len(cache) && len(out) < topK {
		appendCache()
	}
	for j < len(disk) && len(out) < topK {
		appendDisk()
	}

	return out
}
