package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/svat/internal/runtime"
	"github.com/mohammad-safakhou/svat/internal/search"
	"github.com/mohammad-safakhou/svat/internal/store"
	"github.com/mohammad-safakhou/svat/internal/vectorstore"
	"github.com/mohammad-safakhou/svat/models"
)

// ResultsHandler serves stored processing results, their records, collection
// summaries and record search.
type ResultsHandler struct {
	Store   *store.Store
	Vectors vectorstore.Store
	Search  *search.Index
}

func (h *ResultsHandler) Register(g *echo.Group, secret []byte) {
	auth := runtime.EchoAuthMiddleware(secret)
	g.GET("/results/:collection_name/", h.result, auth)
	g.GET("/results/:collection_name/vulnerabilities/", h.records, auth)
	g.GET("/collections/:collection_name/", h.collection, auth)
	g.GET("/vulnerabilities/search/", h.search, auth)
}

// Result
//
//	@Summary	Stored processing result
//	@Tags		results
//	@Produce	json
//	@Param		collection_name	path		string	true	"Salted collection name"
//	@Success	200				{object}	ResultResponse
//	@Failure	404				{object}	HTTPError
//	@Router		/results/{collection_name}/ [get]
func (h *ResultsHandler) result(c echo.Context) error {
	r, err := h.Store.GetProcessingResult(c.Request().Context(), runtime.UserID(c), c.Param("collection_name"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Result not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	payload := map[string]interface{}{}
	if len(r.Response) > 0 {
		if err := json.Unmarshal(r.Response, &payload); err != nil {
			payload = map[string]interface{}{"response": string(r.Response)}
		}
	}
	return c.JSON(http.StatusOK, newResultResponse(payload, r.FileName, r.ResultURL, r.CreatedAt))
}

// Records
//
//	@Summary	Persisted vulnerability records of one processing result
//	@Tags		results
//	@Produce	json
//	@Param		collection_name	path		string	true	"Salted collection name"
//	@Success	200				{object}	RecordsResponse
//	@Failure	404				{object}	HTTPError
//	@Router		/results/{collection_name}/vulnerabilities/ [get]
func (h *ResultsHandler) records(c echo.Context) error {
	ctx := c.Request().Context()
	userID, name := runtime.UserID(c), c.Param("collection_name")
	if _, err := h.Store.GetProcessingResult(ctx, userID, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Result not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	vulns, err := h.Store.ListVulnerabilities(ctx, userID, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if vulns == nil {
		vulns = []models.Vulnerability{}
	}
	return c.JSON(http.StatusOK, RecordsResponse{CollectionName: name, Vulnerabilities: vulns})
}

// Collection
//
//	@Summary	Size and documents of a vector collection the caller ingested into
//	@Tags		results
//	@Produce	json
//	@Param		collection_name	path		string	true	"Vector collection name"
//	@Success	200				{object}	CollectionResponse
//	@Failure	404				{object}	HTTPError
//	@Router		/collections/{collection_name}/ [get]
func (h *ResultsHandler) collection(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("collection_name")
	owned, err := h.Store.CollectionOwnedBy(ctx, runtime.UserID(c), name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !owned {
		return echo.NewHTTPError(http.StatusNotFound, "Collection not found")
	}
	units, err := h.Vectors.Count(ctx, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, vectorStoreDown)
	}
	fps, err := h.Vectors.Fingerprints(ctx, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, vectorStoreDown)
	}
	if fps == nil {
		fps = []string{}
	}
	return c.JSON(http.StatusOK, CollectionResponse{CollectionName: name, Units: units, Documents: fps})
}

func (h *ResultsHandler) search(c echo.Context) error {
	limit, err := formInt(c, "limit", 0)
	if err != nil {
		return err
	}
	q := c.QueryParam("q")
	hits, err := h.Search.Search(runtime.UserID(c), q, limit)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	resp := SearchResponse{Query: q, Hits: make([]SearchHit, 0, len(hits))}
	for _, hit := range hits {
		resp.Hits = append(resp.Hits, SearchHit{Vulnerability: hit.Vulnerability, Score: hit.Score})
	}
	return c.JSON(http.StatusOK, resp)
}
