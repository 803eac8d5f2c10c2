package ragcache

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/incidentfox/ifox-core/pkg/ragcache/treeformat"
)

// Merge strategies for FederatedSearch (spec.md §4.J).
const (
	MergeScore      = "score"
	MergeRoundRobin = "round_robin"
	MergeWeighted   = "weighted"
)

// SearchResult is one retrieved node, shaped per spec.md §4.J's search
// contract.
type SearchResult struct {
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Layer     int     `json:"layer"`
	NodeID    string  `json:"node_id,omitempty"`
	IsSummary bool    `json:"is_summary"`
	Tree      string  `json:"tree,omitempty"`
}

// layerScore implements spec.md §4.J's "Score is 1/(1 + 0.2·layer)".
func layerScore(layer int) float64 {
	return 1.0 / (1.0 + 0.2*float64(layer))
}

// Search retrieves up to topK nodes from tree matching query. Candidate
// nodes are selected by a simple case-insensitive term-overlap filter —
// the real embedding-based retrieval that ranks pickled trees is out of
// scope (spec.md §1 names "pipeline-agnostic knowledge-graph construction"
// as a non-goal); once selected, each result's Score is the layer-only
// formula the spec defines, and results are ordered by it.
func (c *Cache) Search(ctx context.Context, query string, topK int, tree string) ([]SearchResult, error) {
	t, err := c.LoadTree(ctx, tree)
	if err != nil {
		return nil, err
	}
	return searchTree(t, query, topK), nil
}

func searchTree(t *treeformat.Tree, query string, topK int) []SearchResult {
	terms := queryTerms(query)

	results := make([]SearchResult, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		if len(terms) > 0 && !matchesAnyTerm(n.Text, terms) {
			continue
		}
		results = append(results, SearchResult{
			Text:      n.Text,
			Score:     layerScore(n.Layer),
			Layer:     n.Layer,
			NodeID:    n.ID,
			IsSummary: n.IsSummary,
			Tree:      t.Name,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

func matchesAnyTerm(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// AnswerResult is the shape of Answer's response (spec.md §4.J).
type AnswerResult struct {
	Answer        string   `json:"answer"`
	ContextChunks []string `json:"context_chunks"`
	Citations     []string `json:"citations"`
}

// Answer runs retrieval against tree then extractively synthesizes an
// answer from the retrieved context. The underlying LLM model is an
// explicit non-goal of this system (spec.md §1), so "QA" here is
// extractive — the top-scoring chunks joined together — rather than a
// generative call; a caller wanting a generated answer composes this
// with its own LLM client using ContextChunks as grounding.
func (c *Cache) Answer(ctx context.Context, question string, topK int, tree string) (AnswerResult, error) {
	results, err := c.Search(ctx, question, topK, tree)
	if err != nil {
		return AnswerResult{}, err
	}

	chunks := make([]string, 0, len(results))
	citations := make([]string, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, r.Text)
		if r.NodeID != "" {
			citations = append(citations, r.NodeID)
		}
	}

	return AnswerResult{
		Answer:        strings.Join(chunks, "\n\n"),
		ContextChunks: chunks,
		Citations:     citations,
	}, nil
}

// FederatedResult is the shape of FederatedSearch's response.
type FederatedResult struct {
	Results       []SearchResult `json:"results"`
	TreesSearched []string       `json:"trees_searched"`
	TreesFailed   []string       `json:"trees_failed"`
}

// FederatedSearch queries each of treeNames with topKPerTree, then merges
// per merge (one of MergeScore, MergeRoundRobin, MergeWeighted), returning
// up to topK results overall (spec.md §4.J).
func (c *Cache) FederatedSearch(ctx context.Context, query string, treeNames []string, topK, topKPerTree int, merge string) (FederatedResult, error) {
	perTree := make(map[string][]SearchResult, len(treeNames))
	var searched, failed []string

	for _, name := range treeNames {
		results, err := c.Search(ctx, query, topKPerTree, name)
		if err != nil {
			failed = append(failed, name)
			continue
		}
		perTree[name] = results
		searched = append(searched, name)
	}

	var merged []SearchResult
	switch merge {
	case MergeScore, "":
		merged = mergeByScore(searched, perTree)
	case MergeRoundRobin:
		merged = mergeRoundRobin(searched, perTree)
	case MergeWeighted:
		merged = mergeWeighted(searched, perTree)
	default:
		return FederatedResult{}, fmt.Errorf("ragcache: unknown merge strategy %q", merge)
	}

	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}

	return FederatedResult{Results: merged, TreesSearched: searched, TreesFailed: failed}, nil
}

func mergeByScore(order []string, perTree map[string][]SearchResult) []SearchResult {
	var all []SearchResult
	for _, name := range order {
		all = append(all, perTree[name]...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	return all
}

// mergeRoundRobin interleaves results across trees in the order trees were
// first queried: tree[0]'s best, tree[1]'s best, ..., then tree[0]'s
// second-best, and so on.
func mergeRoundRobin(order []string, perTree map[string][]SearchResult) []SearchResult {
	var all []SearchResult
	for idx := 0; ; idx++ {
		added := false
		for _, name := range order {
			list := perTree[name]
			if idx < len(list) {
				all = append(all, list[idx])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return all
}

// mergeWeighted applies spec.md §4.J's "multiply each tree's scores by
// 1 − 0.1·index_of_first_appearance" using the tree's position in the
// query's tree list as its index, then sorts the combined set by score.
func mergeWeighted(order []string, perTree map[string][]SearchResult) []SearchResult {
	var all []SearchResult
	for idx, name := range order {
		weight := 1.0 - 0.1*float64(idx)
		if weight < 0 {
			weight = 0
		}
		for _, r := range perTree[name] {
			r.Score *= weight
			all = append(all, r)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	return all
}
