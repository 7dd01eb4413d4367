package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/niyazmukh/content-pipeline-sub001/internal/artifacts"
	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/research"
	"github.com/niyazmukh/content-pipeline-sub001/internal/stream"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	probe := map[string]any{"mode": s.cfg.Persistence.Mode}
	resp := map[string]any{
		"ok": true,
		"ts": time.Now().UTC().Format(time.RFC3339),
	}
	if !s.cfg.ServerlessHost() {
		if err := os.MkdirAll(s.cfg.Persistence.OutputsDir, 0o755); err != nil {
			resp["ok"] = false
			probe["error"] = err.Error()
		}
	}
	resp["persistence"] = probe
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Public())
}

// openRun starts an SSE response, resolves the run ID and applies the run
// budget. The caller must invoke the returned cleanup.
func (s *Server) openRun(w http.ResponseWriter, r *http.Request, runID string) (*stream.Stream, *stream.Emitter, context.Context, func(), error) {
	st, ctx, err := stream.Open(w, r, s.heartbeatInterval())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.runBudget())
	em := stream.NewEmitter(st, runIDOr(runID))
	cleanup := func() {
		cancel()
		st.Close()
	}
	return st, em, ctx, cleanup, nil
}

func (s *Server) handleRunAgentStream(w http.ResponseWriter, r *http.Request) {
	in, err := s.parseRunInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	_, em, ctx, cleanup, err := s.openRun(w, r, in.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cleanup()
	s.runPipeline(ctx, em, in)
}

func (s *Server) handleRetrieveStream(w http.ResponseWriter, r *http.Request) {
	in, err := s.parseRunInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	_, em, ctx, cleanup, err := s.openRun(w, r, in.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cleanup()

	em.Stage(core.StageRetrieval, core.StatusStart, "Retrieving candidates", nil)
	ret, err := s.retrievalStage(ctx, in)
	if err != nil {
		s.failStage(em, core.StageRetrieval, err)
		return
	}
	artifacts.Persist(s.store, em.RunID(), artifacts.KindRetrievalBatch, ret.Batch)
	artifacts.Persist(s.store, em.RunID(), artifacts.KindRetrievalClusters, ret.Clusters)
	em.Stage(core.StageRetrieval, core.StatusSuccess, "", map[string]int{
		"candidates": len(ret.Batch.Candidates),
		"accepted":   len(ret.Stage.Accepted),
		"clusters":   len(ret.Clusters),
	})
	em.Result(stream.EventRetrievalResult, core.StageRetrieval, ret)
	em.Result(stream.EventClusterResult, core.StageRanking, ret.Clusters)
}

func (s *Server) handleRetrieveCandidates(w http.ResponseWriter, r *http.Request) {
	in, err := s.parseRunInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	retriever, err := s.newRetriever(in.keys)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, err := retriever.Retrieve(r.Context(), retrieveParamsFor(s, in))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	mainQuery := in.Topic
	if len(batch.Queries) > 0 {
		mainQuery = batch.Queries[0]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":          in.RunID,
		"recencyHours":   s.effectiveRecency(in.recency),
		"mainQuery":      mainQuery,
		"queries":        batch.Queries,
		"candidateCount": len(batch.Candidates),
		"candidates":     batch.Candidates,
		"perProvider":    batch.Metrics,
	})
}

func (s *Server) handleExtractBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RunID        string           `json:"runId"`
		MainQuery    string           `json:"mainQuery"`
		Query        string           `json:"query"`
		Candidates   []core.Candidate `json:"candidates"`
		RecencyHours any              `json:"recencyHours"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "candidates are required")
		return
	}
	query := body.MainQuery
	if query == "" {
		query = body.Query
	}
	recency := s.effectiveRecency(ParseRecencyHours(stringifyNumber(body.RecencyHours), s.cfg.Retrieval.RecencyHours))
	res, err := s.stage.Process(r.Context(), query, body.Candidates, s.limits(recency))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, art := range res.Accepted {
		artifacts.PersistNormalized(s.store, art.ID, art)
	}
	var extractionErrors []string
	for _, m := range res.Metrics {
		extractionErrors = append(extractionErrors, m.Errors...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":         res.Accepted,
		"perProvider":      res.Metrics,
		"attempts":         res.Attempts,
		"extractionErrors": extractionErrors,
	})
}

func (s *Server) handleClusterArticles(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Articles []core.NormalizedArticle `json:"articles"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Articles) == 0 {
		writeError(w, http.StatusBadRequest, "articles are required")
		return
	}
	writeJSON(w, http.StatusOK, s.clusterer.Cluster(body.Articles))
}

func (s *Server) handleOutlineStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RunID    string              `json:"runId"`
		Topic    string              `json:"topic"`
		Clusters []core.StoryCluster `json:"clusters"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	opts := llmOptions(r)
	_, em, ctx, cleanup, err := s.openRun(w, r, body.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cleanup()

	em.Stage(core.StageOutline, core.StatusStart, "Generating outline", nil)
	res, err := s.outliner.Generate(ctx, body.Topic, body.Clusters, opts)
	if err != nil {
		s.failStage(em, core.StageOutline, err)
		return
	}
	artifacts.Persist(s.store, em.RunID(), artifacts.KindOutline, res)
	em.Stage(core.StageOutline, core.StatusSuccess, "", map[string]int{"points": len(res.Outline)})
	em.Result(stream.EventOutlineResult, core.StageOutline, res)
}

func (s *Server) handleTargetedResearchStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RunID        string              `json:"runId"`
		Topic        string              `json:"topic"`
		Outline      core.OutlinePayload `json:"outline"`
		Clusters     []core.StoryCluster `json:"clusters"`
		OutlineIndex int                 `json:"outlineIndex"`
		Point        string              `json:"point"`
		Summary      string              `json:"summary"`
		RecencyHours any                 `json:"recencyHours"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// A single point may be researched on its own without a full outline.
	if len(body.Outline.Outline) == 0 && strings.TrimSpace(body.Point) != "" {
		body.Outline.Outline = []core.OutlinePoint{{Point: body.Point, Summary: body.Summary}}
	}
	if len(body.Outline.Outline) == 0 {
		writeError(w, http.StatusBadRequest, "outline is required")
		return
	}
	keys := s.searchKeys(r)
	opts := llmOptions(r)
	recency := s.effectiveRecency(ParseRecencyHours(stringifyNumber(body.RecencyHours), s.cfg.Retrieval.RecencyHours))
	_, em, ctx, cleanup, err := s.openRun(w, r, body.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cleanup()

	em.Stage(core.StageTargetedResearch, core.StatusStart, "Researching outline points", nil)
	var evidence []core.EvidenceItem
	if s.cfg.ServerlessHost() {
		evidence = research.BuildEvidenceFromClusters(body.Outline, body.Clusters)
	} else {
		retriever, rerr := s.newRetriever(keys)
		if rerr != nil {
			s.failStage(em, core.StageTargetedResearch, rerr)
			return
		}
		evidence, err = s.newResearcher(retriever).Research(ctx, body.Outline, research.Params{
			Topic:        body.Topic,
			RecencyHours: recency,
			LLMOptions:   opts,
		})
		if err != nil {
			s.failStage(em, core.StageTargetedResearch, err)
			return
		}
	}
	artifacts.Persist(s.store, em.RunID(), artifacts.KindTargetedResearch, evidence)
	em.Stage(core.StageTargetedResearch, core.StatusSuccess, "", map[string]int{"points": len(evidence)})
	em.Result(stream.EventTargetedResearch, core.StageTargetedResearch, evidence)
}

func (s *Server) handleArticleStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RunID           string              `json:"runId"`
		Topic           string              `json:"topic"`
		Outline         core.OutlinePayload `json:"outline"`
		Evidence        []core.EvidenceItem `json:"evidence"`
		Clusters        []core.StoryCluster `json:"clusters"`
		PreviousArticle string              `json:"previousArticle"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Outline.Outline) == 0 {
		writeError(w, http.StatusBadRequest, "outline is required")
		return
	}
	opts := llmOptions(r)
	_, em, ctx, cleanup, err := s.openRun(w, r, body.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cleanup()

	em.Stage(core.StageSynthesis, core.StatusStart, "Writing article", nil)
	article, err := s.synthesizer.Synthesize(ctx, synthParamsFromBody(body.Topic, body.Outline, body.Evidence, body.Clusters, body.PreviousArticle, opts))
	if err != nil {
		s.failStage(em, core.StageSynthesis, err)
		return
	}
	artifacts.Persist(s.store, em.RunID(), artifacts.KindSourceCatalog, article.SourceCatalog)
	artifacts.Persist(s.store, em.RunID(), artifacts.KindArticle, article)
	em.Stage(core.StageSynthesis, core.StatusSuccess, "", map[string]any{
		"wordCount": article.WordCount,
		"warnings":  article.Warnings,
	})
	em.Result(stream.EventArticleResult, core.StageSynthesis, article)
}

func (s *Server) handleImagePromptStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RunID   string `json:"runId"`
		Title   string `json:"title"`
		Article string `json:"article"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Article) == "" {
		writeError(w, http.StatusBadRequest, "article is required")
		return
	}
	opts := llmOptions(r)
	_, em, ctx, cleanup, err := s.openRun(w, r, body.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cleanup()

	em.Stage(core.StageImagePrompt, core.StatusStart, "Generating image prompt", nil)
	res, err := s.synthesizer.GenerateImagePrompt(ctx, body.Title, body.Article, opts)
	if err != nil {
		s.failStage(em, core.StageImagePrompt, err)
		return
	}
	artifacts.Persist(s.store, em.RunID(), artifacts.KindImagePrompt, res)
	em.Stage(core.StageImagePrompt, core.StatusSuccess, "", nil)
	em.Result(stream.EventImagePromptResult, core.StageImagePrompt, res)
}

func (s *Server) handleReadArtifact(w http.ResponseWriter, r *http.Request) {
	s.serveStored(w, func() ([]byte, error) {
		raw, err := s.store.ReadArtifact(chi.URLParam(r, "runId"), chi.URLParam(r, "kind"))
		return raw, err
	})
}

func (s *Server) handleReadArticle(w http.ResponseWriter, r *http.Request) {
	s.serveStored(w, func() ([]byte, error) {
		raw, err := s.store.ReadArtifact(chi.URLParam(r, "id"), artifacts.KindArticle)
		return raw, err
	})
}

func (s *Server) handleReadNormalized(w http.ResponseWriter, r *http.Request) {
	s.serveStored(w, func() ([]byte, error) {
		raw, err := s.store.ReadNormalized(chi.URLParam(r, "articleId"))
		return raw, err
	})
}

func (s *Server) serveStored(w http.ResponseWriter, read func() ([]byte, error)) {
	raw, err := read()
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
