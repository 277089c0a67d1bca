package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ResearchChat/logger"
	chatmodel "ResearchChat/module/chat/model"
	rmodel "ResearchChat/module/research/model"
	"ResearchChat/service/metrics"
	"ResearchChat/tools/decode"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/safe"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string // scope decision
	ResearchModel   string
	Timeout         time.Duration
	MaxRetryElapsed time.Duration // 仅限流重试
	RetryInitial    time.Duration // 默认 2s
	Scope           string
}

// OpenAIClient implements Capability on the chat completions API.
type OpenAIClient struct {
	cli   *openai.Client
	cfg   OpenAIConfig
	calls CallRecorder
}

func NewOpenAIClient(cfg OpenAIConfig, calls CallRecorder) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errs.ErrUpstreamConfig.WrapMsg("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
		logger.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	if cfg.ResearchModel == "" {
		cfg.ResearchModel = cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 2 * time.Minute
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 2 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	logger.Info("Initializing OpenAI client", zap.String("model", cfg.Model), zap.String("research_model", cfg.ResearchModel))
	return &OpenAIClient{cli: openai.NewClientWithConfig(oc), cfg: cfg, calls: calls}, nil
}

type scopeDecision struct {
	InScope          bool `json:"in_scope"`
	RequiresResearch bool `json:"requires_research"`
}

func (o *OpenAIClient) DecideScope(ctx context.Context, window []chatmodel.Turn) (bool, error) {
	req := openai.ChatCompletionRequest{
		Model:          o.cfg.Model,
		Messages:       append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: scopePrompt(o.cfg.Scope)}}, toMessages(window)...),
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	}
	content, _, err := o.complete(ctx, chatmodel.CallScope, req, false)
	if err != nil {
		return false, err
	}
	d, err := decode.DecodeJSON[scopeDecision](content)
	if err != nil {
		return false, errs.ErrUpstreamMalformed.WrapMsg("scope decision", "err", err)
	}
	return d.InScope && d.RequiresResearch, nil
}

func (o *OpenAIClient) Research(ctx context.Context, prompt string, window []chatmodel.Turn) (*rmodel.Report, error) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: researchSystemPrompt}}
	msgs = append(msgs, toMessages(window)...)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	req := openai.ChatCompletionRequest{
		Model:    o.cfg.ResearchModel,
		Messages: msgs,
	}
	content, _, err := o.complete(ctx, chatmodel.CallResearch, req, true)
	if err != nil {
		return nil, err
	}
	r, err := decode.DecodeJSON[rmodel.Report](content)
	if err != nil {
		return nil, errs.ErrUpstreamMalformed.WrapMsg("research report", "err", err)
	}
	if strings.TrimSpace(r.ExecutiveSummary) == "" && len(r.KeyDevelopments) == 0 {
		return nil, errs.ErrUpstreamMalformed.WrapMsg("research report is empty")
	}
	return r, nil
}

// complete runs one completion. With retry, rate limited calls are retried
// with exponential backoff; every other error is permanent.
func (o *OpenAIClient) complete(ctx context.Context, kind string, req openai.ChatCompletionRequest, retry bool) (string, int, error) {
	start := time.Now()
	attempts := 0
	var content string

	op := func() error {
		attempts++
		cctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
		resp, err := o.cli.CreateChatCompletion(cctx, req)
		if err != nil {
			cerr := classify(err)
			if retry && errors.Is(cerr, errs.ErrRateLimited) {
				logger.Warn("llm rate limited, backing off", zap.String("kind", kind), zap.Int("attempt", attempts))
				return cerr
			}
			return backoff.Permanent(cerr)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return backoff.Permanent(errs.ErrUpstreamMalformed.WrapMsg("no choices"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	var err error
	if retry {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = o.cfg.RetryInitial
		bo.MaxElapsedTime = o.cfg.MaxRetryElapsed
		err = backoff.Retry(op, backoff.WithContext(bo, ctx))
	} else {
		err = op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}

	metrics.ObserveLLM(kind, start, err)
	o.record(kind, req.Model, start, attempts, err)
	if err != nil {
		logger.Warn("llm call failed", zap.String("kind", kind), zap.Int("attempts", attempts), zap.Error(err))
		return "", attempts, err
	}
	return content, attempts, nil
}

func (o *OpenAIClient) record(kind, model string, start time.Time, attempts int, err error) {
	if o.calls == nil {
		return
	}
	log := &chatmodel.APICallLog{
		Kind:      kind,
		Model:     model,
		LatencyMS: time.Since(start).Milliseconds(),
		Success:   err == nil,
		Attempts:  attempts,
		CreatedAt: start,
	}
	if err != nil {
		log.Error = err.Error()
	}
	safe.Go("llm-call-log", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e := o.calls.RecordCall(ctx, log); e != nil {
			logger.Warn("record llm call failed", zap.Error(e))
		}
	})
}

func toMessages(window []chatmodel.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(window))
	for _, t := range window {
		role := openai.ChatMessageRoleUser
		if t.Role == chatmodel.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return out
}

func scopePrompt(scope string) string {
	return fmt.Sprintf(`You decide whether the latest user message is within scope for an assistant that covers %s.
Reply with a JSON object only: {"in_scope": boolean, "requires_research": boolean}.
requires_research is true when answering needs current facts or web sources.`, scope)
}

const researchSystemPrompt = `You are a research assistant with web search. Answer the user's latest question.
Reply with a single JSON object and nothing else:
{"executive_summary": string,
 "key_developments": [{"number": int, "title": string, "description": string, "citations": [int]}],
 "citations": [{"id": int, "title": string, "url": string, "relevance_score": number 0-10}]}
Every citation id referenced by a key development must appear in citations.`
