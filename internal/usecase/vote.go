package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/fairyhunter13/search-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/search-gateway/internal/observability"
	"github.com/fairyhunter13/search-gateway/pkg/textx"
)

// VoteTimestampLayout is used when the client sends no timestamp.
const VoteTimestampLayout = "2006-01-02 15:04:05"

const publishTimeout = 5 * time.Second

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New()
		vld.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return vld
}

// VoteRequest is the accepted vote payload.
type VoteRequest struct {
	ConversationID       string `json:"conversation_id" validate:"required,max=256"`
	ServerConversationID string `json:"server_conversation_id" validate:"max=256"`
	QueryID              string `json:"query_id" validate:"max=256"`
	Vote                 string `json:"vote" validate:"max=64"`
	IsFinal              bool   `json:"is_final"`
	Timestamp            string `json:"timestamp" validate:"max=64"`

	// RawVote holds a non-string vote as sent, for the reply.
	RawVote json.RawMessage `json:"-"`
}

// VoteService records votes locally and never contacts the upstream API.
type VoteService struct {
	Repo domain.VoteRepository
	// Publisher is optional.
	Publisher domain.VoteEventPublisher
	Now       func() time.Time
}

// NewVoteService constructs a VoteService.
func NewVoteService(repo domain.VoteRepository, pub domain.VoteEventPublisher) VoteService {
	return VoteService{Repo: repo, Publisher: pub, Now: time.Now}
}

// ParseVoteRequest reads a vote from a JSON body. Non-string scalars are
// accepted: Vote carries their text for storage and RawVote the JSON value.
func ParseVoteRequest(body []byte) (VoteRequest, error) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return VoteRequest{}, invalidArgument("Invalid request format", "Invalid JSON body")
	}
	root := gjson.ParseBytes(body)
	vote := root.Get("vote")
	req := VoteRequest{
		ConversationID:       strings.TrimSpace(root.Get("conversation_id").String()),
		ServerConversationID: strings.TrimSpace(root.Get("server_conversation_id").String()),
		QueryID:              strings.TrimSpace(root.Get("query_id").String()),
		Vote:                 vote.String(),
		IsFinal:              root.Get("is_final").Bool(),
		Timestamp:            root.Get("timestamp").String(),
	}
	if vote.Exists() && vote.Type != gjson.String && vote.Type != gjson.Null {
		req.RawVote = json.RawMessage(vote.Raw)
	}
	if qt := root.Get("query_id").Type; qt == gjson.False || qt == gjson.Null {
		req.QueryID = ""
	}
	if err := getValidator().Struct(req); err != nil {
		fields := []string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
		}
		return VoteRequest{}, invalidArgument("Invalid vote", "validation failed: "+strings.Join(fields, ", "))
	}
	return req, nil
}

// InferQueryID picks the query id for a vote: an explicit id wins, then the
// segment after "query_" in the server or client conversation id, then a
// "conv_" prefixed conversation id rewritten to "query_", then the
// conversation id itself. An explicit "0" counts as absent.
func InferQueryID(explicit, serverConversationID, conversationID string) string {
	if explicit != "" && explicit != "0" {
		return explicit
	}
	for _, id := range []string{serverConversationID, conversationID} {
		if parts := strings.SplitN(id, "query_", 3); len(parts) > 1 {
			return "query_" + parts[1]
		}
	}
	if rest, ok := strings.CutPrefix(conversationID, "conv_"); ok {
		return "query_" + rest
	}
	return conversationID
}

// Record validates, persists and announces one vote.
func (s VoteService) Record(ctx context.Context, in domain.InboundRequest) (Reply, error) {
	req, err := ParseVoteRequest(in.Body)
	if err != nil {
		return Reply{}, err
	}
	key := textx.SanitizeKey(req.ConversationID)
	if key == "" {
		return Reply{}, invalidArgument("Invalid vote", "conversation_id has no usable characters")
	}
	now := s.now()
	v := domain.Vote{
		ConversationID:       req.ConversationID,
		ServerConversationID: req.ServerConversationID,
		QueryID:              InferQueryID(req.QueryID, req.ServerConversationID, req.ConversationID),
		Vote:                 req.Vote,
		Timestamp:            req.Timestamp,
		IsFinal:              req.IsFinal,
		ClientIP:             ClientAddr(in.RemoteAddr),
		RecordedAt:           now.UTC(),
	}
	if v.Timestamp == "" {
		v.Timestamp = now.Format(VoteTimestampLayout)
	}
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("vote_key", key), slog.String("query_id", v.QueryID))

	if err := s.Repo.Save(ctx, key, v); err != nil {
		observability.ObserveVote("error")
		lg.Error("vote persist failed", slog.Any("error", err))
		return Reply{}, &FlowError{Kind: domain.ErrPersistence, Message: "Failed to record vote", Detail: "vote could not be saved"}
	}
	observability.ObserveVote("ok")
	lg.Info("vote recorded", slog.String("vote", v.Vote), slog.Bool("is_final", v.IsFinal))

	if s.Publisher != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		if err := s.Publisher.PublishVote(pctx, v); err != nil {
			lg.Warn("vote event publish failed", slog.Any("error", err))
		}
		cancel()
	}

	var echoed any = v.Vote
	if req.RawVote != nil {
		echoed = req.RawVote
	}
	return EnvelopeReply(http.StatusOK, Envelope{
		Success: true,
		Message: "Vote recorded successfully",
		Data: map[string]any{
			"conversation_id":        v.ConversationID,
			"server_conversation_id": v.ServerConversationID,
			"query_id":               v.QueryID,
			"vote":                   echoed,
			"is_final":               v.IsFinal,
		},
	}), nil
}

func (s VoteService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
