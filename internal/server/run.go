package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/niyazmukh/content-pipeline-sub001/internal/artifacts"
	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/llm"
	"github.com/niyazmukh/content-pipeline-sub001/internal/research"
	"github.com/niyazmukh/content-pipeline-sub001/internal/retrieve"
	"github.com/niyazmukh/content-pipeline-sub001/internal/search"
	"github.com/niyazmukh/content-pipeline-sub001/internal/stream"
	"github.com/niyazmukh/content-pipeline-sub001/internal/synth"
)

var (
	errNoProviders = errors.New("no search providers are configured; set provider API keys or enable Google News RSS")
	errNoClusters  = errors.New("no story clusters survived retrieval")
)

// runInput carries everything one streamed run needs from the request.
type runInput struct {
	RunID           string `json:"runId"`
	Topic           string `json:"topic"`
	RecencyHours    any    `json:"recencyHours"`
	PreviousArticle string `json:"previousArticle"`

	recency int
	keys    search.Keys
	llmOpts llm.Options
}

// runIDOr keeps a client-chosen run ID so artifacts land where the client
// will look for them; anything unsafe as a path component is replaced.
func runIDOr(requested string) string {
	requested = strings.TrimSpace(requested)
	if requested != "" && artifacts.ValidName(requested) {
		return requested
	}
	return core.NewRunID()
}

// parseRunInput merges body and query parameters with header overrides.
func (s *Server) parseRunInput(r *http.Request) (*runInput, error) {
	in := &runInput{}
	if err := decodeJSON(r, in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Topic) == "" {
		in.Topic = strings.TrimSpace(r.URL.Query().Get("topic"))
	}
	if in.Topic == "" {
		in.Topic = strings.TrimSpace(r.URL.Query().Get("topicQuery"))
	}
	if strings.TrimSpace(in.RunID) == "" {
		in.RunID = r.URL.Query().Get("runId")
	}
	in.RunID = runIDOr(in.RunID)
	recencyRaw := r.URL.Query().Get("recencyHours")
	if in.RecencyHours != nil {
		recencyRaw = stringifyNumber(in.RecencyHours)
	}
	in.recency = ParseRecencyHours(recencyRaw, s.cfg.Retrieval.RecencyHours)
	in.keys = s.searchKeys(r)
	in.llmOpts = llmOptions(r)
	return in, nil
}

func stringifyNumber(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

// effectiveRecency resolves the request recency against the server default.
func (s *Server) effectiveRecency(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.cfg.Retrieval.RecencyHours
}

// newRetriever builds the per-request retriever. Topic analysis is skipped
// on serverless hosts to stay inside the subrequest budget.
func (s *Server) newRetriever(keys search.Keys) (*retrieve.Retriever, error) {
	providers := search.Enabled(keys, s.cfg.Providers.GoogleNews.Disabled)
	if len(providers) == 0 {
		return nil, errNoProviders
	}
	return retrieve.NewRetriever(providers, s.client), nil
}

// retrieveParamsFor maps a run input onto retrieval parameters.
func retrieveParamsFor(s *Server, in *runInput) retrieve.Params {
	return retrieve.Params{
		Topic:         in.Topic,
		RecencyHours:  s.effectiveRecency(in.recency),
		MaxCandidates: s.cfg.Retrieval.MaxCandidates,
		MaxPerQuery:   10,
		SkipAnalysis:  s.cfg.ServerlessHost(),
		LLMOptions:    in.llmOpts,
	}
}

func synthParamsFromBody(topic string, outlinePayload core.OutlinePayload, evidence []core.EvidenceItem, clusters []core.StoryCluster, previous string, opts llm.Options) synth.Params {
	return synth.Params{
		Topic:           topic,
		Outline:         outlinePayload,
		Evidence:        evidence,
		Clusters:        clusters,
		PreviousArticle: previous,
		LLMOptions:      opts,
	}
}

// retrievalStage runs fan-out, extraction and clustering for one query set.
type retrievalOutput struct {
	Batch    *retrieve.BatchResult `json:"batch"`
	Stage    *retrieve.StageResult `json:"stage"`
	Clusters []core.StoryCluster   `json:"clusters"`
}

func (s *Server) retrievalStage(ctx context.Context, in *runInput) (*retrievalOutput, error) {
	retriever, err := s.newRetriever(in.keys)
	if err != nil {
		return nil, err
	}
	recency := s.effectiveRecency(in.recency)
	batch, err := retriever.Retrieve(ctx, retrieveParamsFor(s, in))
	if err != nil {
		return nil, err
	}
	stageRes, err := s.stage.Process(ctx, in.Topic, batch.Candidates, s.limits(recency))
	if err != nil {
		return nil, err
	}
	return &retrievalOutput{
		Batch:    batch,
		Stage:    stageRes,
		Clusters: s.clusterer.Cluster(stageRes.Accepted),
	}, nil
}

func (s *Server) limits(recency int) retrieve.Limits {
	return retrieve.Limits{
		MinAccepted:        s.cfg.Retrieval.MinAccepted,
		MaxAttempts:        s.cfg.Retrieval.MaxAttempts,
		RecencyHours:       recency,
		MinWordCount:       s.cfg.Retrieval.MinWordCount,
		BannedHostPatterns: s.cfg.Retrieval.BannedHostPatterns,
	}
}

func (s *Server) newResearcher(retriever *retrieve.Retriever) *research.Researcher {
	return research.NewResearcher(s.client, retriever, s.stage, s.clusterer, s.cfg.Retrieval)
}

// runPipeline executes the full staged run, emitting progress and results
// over the stream and persisting artifacts best-effort along the way.
func (s *Server) runPipeline(ctx context.Context, em *stream.Emitter, in *runInput) {
	runID := em.RunID()

	em.Stage(core.StageRetrieval, core.StatusStart, "Retrieving candidates", nil)
	ret, err := s.retrievalStage(ctx, in)
	if err != nil {
		s.failStage(em, core.StageRetrieval, err)
		return
	}
	for _, art := range ret.Stage.Accepted {
		artifacts.PersistNormalized(s.store, art.ID, art)
	}
	artifacts.Persist(s.store, runID, artifacts.KindRetrievalBatch, ret.Batch)
	artifacts.Persist(s.store, runID, artifacts.KindRetrievalClusters, ret.Clusters)
	em.Stage(core.StageRetrieval, core.StatusSuccess, "", map[string]int{
		"candidates": len(ret.Batch.Candidates),
		"accepted":   len(ret.Stage.Accepted),
	})
	em.Result(stream.EventRetrievalResult, core.StageRetrieval, ret)

	em.Stage(core.StageRanking, core.StatusStart, "Ranking story clusters", nil)
	if len(ret.Clusters) == 0 {
		s.failStage(em, core.StageRanking, errNoClusters)
		return
	}
	em.Stage(core.StageRanking, core.StatusSuccess, "", map[string]int{"clusters": len(ret.Clusters)})

	em.Stage(core.StageOutline, core.StatusStart, "Generating outline", nil)
	outlineRes, err := s.outliner.Generate(ctx, in.Topic, ret.Clusters, in.llmOpts)
	if err != nil {
		s.failStage(em, core.StageOutline, err)
		return
	}
	artifacts.Persist(s.store, runID, artifacts.KindOutline, outlineRes)
	em.Stage(core.StageOutline, core.StatusSuccess, "", map[string]int{"points": len(outlineRes.Outline)})
	em.Result(stream.EventOutlineResult, core.StageOutline, outlineRes)

	em.Stage(core.StageTargetedResearch, core.StatusStart, "Researching outline points", nil)
	var evidence []core.EvidenceItem
	if s.cfg.ServerlessHost() {
		evidence = research.BuildEvidenceFromClusters(outlineRes.OutlinePayload, ret.Clusters)
	} else {
		retriever, rerr := s.newRetriever(in.keys)
		if rerr != nil {
			s.failStage(em, core.StageTargetedResearch, rerr)
			return
		}
		evidence, err = s.newResearcher(retriever).Research(ctx, outlineRes.OutlinePayload, research.Params{
			Topic:        in.Topic,
			RecencyHours: s.effectiveRecency(in.recency),
			LLMOptions:   in.llmOpts,
		})
		if err != nil {
			s.failStage(em, core.StageTargetedResearch, err)
			return
		}
	}
	artifacts.Persist(s.store, runID, artifacts.KindTargetedResearch, evidence)
	em.Stage(core.StageTargetedResearch, core.StatusSuccess, "", map[string]int{"points": len(evidence)})
	em.Result(stream.EventTargetedResearch, core.StageTargetedResearch, evidence)

	em.Stage(core.StageSynthesis, core.StatusStart, "Writing article", nil)
	article, err := s.synthesizer.Synthesize(ctx, s.synthParams(in, outlineRes, evidence, ret.Clusters))
	if err != nil {
		s.failStage(em, core.StageSynthesis, err)
		return
	}
	artifacts.Persist(s.store, runID, artifacts.KindSourceCatalog, article.SourceCatalog)
	artifacts.Persist(s.store, runID, artifacts.KindArticle, article)
	em.Stage(core.StageSynthesis, core.StatusSuccess, "", map[string]any{
		"wordCount": article.WordCount,
		"warnings":  article.Warnings,
	})
	em.Result(stream.EventArticleResult, core.StageSynthesis, article)

	em.Stage(core.StageImagePrompt, core.StatusStart, "Generating image prompt", nil)
	imagePrompt, err := s.synthesizer.GenerateImagePrompt(ctx, article.Title, article.Article, in.llmOpts)
	if err != nil {
		// The article already succeeded; a missing illustration prompt is
		// reported but does not fail the run.
		em.Stage(core.StageImagePrompt, core.StatusFailure, err.Error(), nil)
		return
	}
	artifacts.Persist(s.store, runID, artifacts.KindImagePrompt, imagePrompt)
	em.Stage(core.StageImagePrompt, core.StatusSuccess, "", nil)
	em.Result(stream.EventImagePromptResult, core.StageImagePrompt, imagePrompt)
}

func (s *Server) synthParams(in *runInput, outlineRes *core.OutlineResult, evidence []core.EvidenceItem, clusters []core.StoryCluster) synth.Params {
	return synth.Params{
		Topic:           in.Topic,
		Outline:         outlineRes.OutlinePayload,
		Evidence:        evidence,
		Clusters:        clusters,
		PreviousArticle: in.PreviousArticle,
		LLMOptions:      in.llmOpts,
	}
}

func (s *Server) failStage(em *stream.Emitter, stage string, err error) {
	em.Stage(stage, core.StatusFailure, err.Error(), nil)
	em.Fatal(stage, err.Error())
}
