package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/svat/internal/news"
	"github.com/mohammad-safakhou/svat/internal/runtime"
)

// NewsSource returns the current security news digest.
type NewsSource interface {
	Latest(ctx context.Context) news.Digest
}

type NewsHandler struct {
	News NewsSource
}

func (h *NewsHandler) Register(g *echo.Group, secret []byte) {
	g.GET("/news/", h.latest, runtime.EchoAuthMiddleware(secret))
}

// News
//
//	@Summary	Latest security news per source
//	@Tags		news
//	@Produce	json
//	@Success	200	{object}	map[string]interface{}
//	@Failure	401	{object}	HTTPError
//	@Router		/news/ [get]
func (h *NewsHandler) latest(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"news": h.News.Latest(c.Request().Context())})
}
