// Package session serves retrieval questions over one long-lived connection
// bound to a single collection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mohammad-safakhou/svat/internal/backend"
	"github.com/mohammad-safakhou/svat/internal/rag"
	"github.com/mohammad-safakhou/svat/internal/telemetry"
	"github.com/mohammad-safakhou/svat/models"
)

const (
	maxSources     = 3
	fallbackAnswer = "I couldn't generate an answer."
)

// ErrUnauthorized is returned by Run when the caller has no identity.
var ErrUnauthorized = errors.New("session: unauthenticated caller")

// Conn is a message-oriented connection carrying JSON values. A gorilla
// websocket connection satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// ChainBuilder binds a chain to a collection.
type ChainBuilder interface {
	BuildChain(ctx context.Context, collection string, opts models.ChainOptions) (backend.Chain, error)
}

type State int

const (
	Connecting State = iota
	Initializing
	Ready
	Processing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Processing:
		return "processing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Inbound is a question sent by the client.
type Inbound struct {
	Message string `json:"message"`
}

// Reply is an answer with up to three cited excerpts.
type Reply struct {
	Message string          `json:"message"`
	Sources []models.Source `json:"sources"`
}

// ErrorReply reports a failed turn or initialization.
type ErrorReply struct {
	Error string `json:"error"`
}

// Session is the state of one connection. Turns are handled one at a time.
type Session struct {
	Collection string
	UserID     string
	Conn       Conn
	Builder    ChainBuilder
	Options    models.ChainOptions
	Logger     *log.Logger

	state State
	turns int
	chain backend.Chain
}

func New(conn Conn, builder ChainBuilder, collection, userID string, opts models.ChainOptions, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	return &Session{
		Collection: collection,
		UserID:     userID,
		Conn:       conn,
		Builder:    builder,
		Options:    opts,
		Logger:     logger,
		state:      Connecting,
	}
}

func (s *Session) State() State { return s.state }

// Turns returns the number of questions answered or rejected so far.
func (s *Session) Turns() int { return s.turns }

// Run drives the session until the client disconnects, ctx ends or
// initialization fails. The connection is always closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.state = Closed
		s.Conn.Close()
	}()

	if s.UserID == "" {
		return ErrUnauthorized
	}

	s.state = Initializing
	chain, err := s.Builder.BuildChain(ctx, s.Collection, s.Options)
	if err != nil {
		s.Logger.Printf("init %s for %s: %v", s.Collection, s.UserID, err)
		return s.Conn.WriteJSON(ErrorReply{Error: "Failed to initialize QA chain: " + err.Error()})
	}
	s.chain = chain
	s.Logger.Printf("session ready on %s for %s", s.Collection, s.UserID)

	for {
		s.state = Ready
		if err := ctx.Err(); err != nil {
			return err
		}
		var in Inbound
		if err := s.Conn.ReadJSON(&in); err != nil {
			if badPayload(err) {
				if werr := s.Conn.WriteJSON(ErrorReply{Error: "Invalid message format"}); werr != nil {
					return werr
				}
				continue
			}
			s.Logger.Printf("session on %s ended after %d turns: %v", s.Collection, s.turns, err)
			return nil
		}
		if err := s.turn(ctx, in); err != nil {
			return err
		}
	}
}

// turn answers one question. Only write failures end the session.
func (s *Session) turn(ctx context.Context, in Inbound) error {
	s.turns++
	question := strings.TrimSpace(in.Message)
	if question == "" {
		telemetry.ChatTurns.WithLabelValues("empty").Inc()
		return s.Conn.WriteJSON(ErrorReply{Error: "No message provided"})
	}

	s.state = Processing
	ans, err := s.chain.Ask(ctx, question)
	if err != nil {
		telemetry.ChatTurns.WithLabelValues("error").Inc()
		s.Logger.Printf("turn %d on %s: %v", s.turns, s.Collection, err)
		return s.Conn.WriteJSON(ErrorReply{Error: "Error processing chat: " + err.Error()})
	}
	telemetry.ChatTurns.WithLabelValues("ok").Inc()
	return s.Conn.WriteJSON(FormatReply(ans))
}

// FormatReply keeps the first three sources with trimmed text and 1-based
// page numbers.
func FormatReply(ans *rag.Answer) Reply {
	r := Reply{Message: fallbackAnswer, Sources: []models.Source{}}
	if ans == nil {
		return r
	}
	if text := strings.TrimSpace(ans.Text); text != "" {
		r.Message = text
	}
	for i, src := range ans.Sources() {
		if i == maxSources {
			break
		}
		r.Sources = append(r.Sources, models.Source{
			Content: strings.TrimSpace(src.Content),
			Page:    src.Page + 1,
		})
	}
	return r
}

func badPayload(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ) || errors.Is(err, io.ErrUnexpectedEOF)
}
