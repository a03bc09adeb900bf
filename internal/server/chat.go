package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/svat/config"
	"github.com/mohammad-safakhou/svat/internal/runtime"
	"github.com/mohammad-safakhou/svat/internal/session"
	"github.com/mohammad-safakhou/svat/internal/store"
	"github.com/mohammad-safakhou/svat/models"
)

// ChatHandler upgrades authenticated requests to a chat session over one
// collection.
type ChatHandler struct {
	Store    *store.Store
	Chains   session.ChainBuilder
	Defaults config.IngestionConfig
	Upgrader websocket.Upgrader
	Logger   *log.Logger
}

func NewChatHandler(st *store.Store, chains session.ChainBuilder, defaults config.IngestionConfig, origins []string, logger *log.Logger) *ChatHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	return &ChatHandler{
		Store:    st,
		Chains:   chains,
		Defaults: defaults,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
		Logger: logger,
	}
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.GET("/ws/chat/:collection_name/", h.chat, runtime.OptionalAuth(secret))
}

func (h *ChatHandler) chat(c echo.Context) error {
	userID := runtime.UserID(c)
	name := c.Param("collection_name")
	if userID == "" {
		return echo.NewHTTPError(http.StatusForbidden, "authentication required")
	}
	ctx := c.Request().Context()
	if h.Store != nil {
		owned, err := h.Store.CollectionOwnedBy(ctx, userID, name)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !owned {
			return echo.NewHTTPError(http.StatusForbidden, "collection not accessible")
		}
	}

	opts := models.ChainOptions{
		Model: models.ModelOptions{
			Name:        h.Defaults.ModelName,
			Temperature: models.Float64(h.Defaults.Temperature),
			MaxTokens:   h.Defaults.MaxTokens,
		},
		TopK: h.Defaults.TopK,
	}
	if m := strings.TrimSpace(c.QueryParam("model_name")); m != "" {
		opts.Model.Name = m
	}

	conn, err := h.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the handshake error.
		h.Logger.Printf("upgrade %s: %v", name, err)
		return nil
	}
	s := session.New(conn, h.Chains, name, userID, opts, h.Logger)
	if err := s.Run(ctx); err != nil {
		h.Logger.Printf("session %s: %v", name, err)
	}
	return nil
}

func originChecker(origins []string) func(*http.Request) bool {
	allowAll := len(origins) == 0
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
