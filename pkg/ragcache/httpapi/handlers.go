// Package httpapi exposes the RAG tree cache's search/answer/federated-search
// contracts as an HTTP surface, following the same bind-validate-call-respond
// shape pkg/orchestrator/httpapi uses for its own admin routes.
package httpapi

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/incidentfox/ifox-core/pkg/ragcache"
	"github.com/incidentfox/ifox-core/pkg/ragcache/treeformat"
)

// Handlers binds a *ragcache.Cache to echo routes.
type Handlers struct {
	cache *ragcache.Cache
}

// New creates the RAG cache HTTP handlers.
func New(cache *ragcache.Cache) *Handlers {
	return &Handlers{cache: cache}
}

// Register wires the search/answer/federated-search routes and the
// off-hot-path tree-edit routes onto g.
func (h *Handlers) Register(g *echo.Group) {
	g.POST("/search", h.search)
	g.POST("/answer", h.answer)
	g.POST("/federated-search", h.federatedSearch)
	g.POST("/trees", h.createTree)
	g.POST("/trees/:name/documents", h.addDocuments)
	g.DELETE("/trees/:name", h.deleteTree)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
	Tree  string `json:"tree"`
}

func (h *Handlers) search(c *echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Tree == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tree is required")
	}
	results, err := h.cache.Search(c.Request().Context(), req.Query, req.TopK, req.Tree)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"results": results})
}

type answerRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
	Tree     string `json:"tree"`
}

func (h *Handlers) answer(c *echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Tree == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tree is required")
	}
	result, err := h.cache.Answer(c.Request().Context(), req.Question, req.TopK, req.Tree)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type federatedSearchRequest struct {
	Query       string   `json:"query"`
	Trees       []string `json:"trees"`
	TopK        int      `json:"top_k"`
	TopKPerTree int      `json:"top_k_per_tree"`
	Merge       string   `json:"merge"`
}

func (h *Handlers) federatedSearch(c *echo.Context) error {
	var req federatedSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Trees) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "trees is required")
	}
	result, err := h.cache.FederatedSearch(c.Request().Context(), req.Query, req.Trees, req.TopK, req.TopKPerTree, req.Merge)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type createTreeRequest struct {
	Name  string            `json:"name"`
	Nodes []treeformat.Node `json:"nodes"`
}

func (h *Handlers) createTree(c *echo.Context) error {
	var req createTreeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if err := h.cache.CreateTree(c.Request().Context(), req.Name, req.Nodes); err != nil {
		if errors.Is(err, ragcache.ErrTreeExists) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, echo.Map{"name": req.Name, "nodes": len(req.Nodes)})
}

type addDocumentsRequest struct {
	Nodes []treeformat.Node `json:"nodes"`
}

func (h *Handlers) addDocuments(c *echo.Context) error {
	name := c.Param("name")
	var req addDocumentsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Nodes) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "nodes are required")
	}
	if err := h.cache.AddDocuments(c.Request().Context(), name, req.Nodes); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"name": name, "added": len(req.Nodes)})
}

func (h *Handlers) deleteTree(c *echo.Context) error {
	if err := h.cache.DeleteTree(c.Request().Context(), c.Param("name")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
