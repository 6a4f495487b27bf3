package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/dtnitsch/regscrape/internal/common"
	"github.com/dtnitsch/regscrape/models"
	"github.com/dtnitsch/regscrape/pkg/caching"
	"github.com/dtnitsch/regscrape/pkg/db"
	"github.com/dtnitsch/regscrape/pkg/detector"
	"github.com/dtnitsch/regscrape/pkg/extractor"
	"github.com/dtnitsch/regscrape/pkg/fetcher"
	"github.com/dtnitsch/regscrape/pkg/llm"
	"github.com/dtnitsch/regscrape/pkg/manifest"
	"github.com/dtnitsch/regscrape/pkg/parser"
)

// Client is the HTTP surface the pipeline needs. *fetcher.Fetcher
// implements it; non-200 replies must come back as *fetcher.StatusError.
type Client interface {
	PostForm(ctx context.Context, url string, form map[string]string) ([]byte, error)
	GetHtmlBytes(ctx context.Context, url string) ([]byte, error)
}

// Ledger receives what happened during a run. *db.DB implements it.
type Ledger interface {
	RecordStage(runID int64, ev db.StageEvent) error
	RecordFetchErrors(runID int64, stage string, records []models.ErrorRecord) error
	RecordRawReplies(runID int64, replies []models.RawReply) error
	RecordPage(runID int64, p db.PageRecord) error
}

type Options struct {
	Store  caching.Store
	Client Client
	// Ledger is optional.
	Ledger Ledger
	RunID  int64
	// NewCompleter is only called when the mappings stage has to compute,
	// so earlier stages run without an API key.
	NewCompleter func() (llm.Completer, error)
	Logger       *slog.Logger
}

// Pipeline runs the five scrape stages in order. Each stage output is
// looked up in the store first and only computed when absent.
type Pipeline struct {
	cfg          *models.Config
	store        caching.Store
	client       Client
	ledger       Ledger
	runID        int64
	newCompleter func() (llm.Completer, error)
	logger       *slog.Logger

	rules    *extractor.Rules
	parser   *parser.Parser
	detector *detector.Detector
	summary  *manifest.RunSummary
}

func New(cfg *models.Config, opts Options) (*Pipeline, error) {
	if opts.Store == nil || opts.Client == nil {
		return nil, errors.New("pipeline needs a store and a client")
	}
	rules, err := extractor.ParseRules(cfg.Rules, cfg.Site.BaseURL)
	if err != nil {
		return nil, err
	}
	p, err := parser.NewParser(cfg.Rules)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		cfg:          cfg,
		store:        opts.Store,
		client:       opts.Client,
		ledger:       opts.Ledger,
		runID:        opts.RunID,
		newCompleter: opts.NewCompleter,
		logger:       logger,
		rules:        rules,
		parser:       p,
	}, nil
}

// Summary returns the summary of the last Run.
func (p *Pipeline) Summary() *manifest.RunSummary {
	return p.summary
}

// Run executes the stages up to and including until, then writes the run
// summary into the scrape directory. Stage outputs already stored stay
// stored even when a later stage fails.
func (p *Pipeline) Run(ctx context.Context, until Stage) error {
	p.summary = manifest.NewRunSummary(p.runID, string(until))

	err := p.run(ctx, until)

	summaryPath := filepath.Join(p.cfg.ScrapeDir, p.cfg.Files.Summary)
	if _, werr := p.summary.Write(summaryPath); werr != nil {
		p.logger.Warn("Failed to write run summary", "path", summaryPath, "error", werr)
	} else {
		p.logger.Info("Run summary saved", "path", summaryPath)
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, until Stage) error {
	courses, err := p.Typeahead(ctx)
	if err != nil || until == StageTypeahead {
		return err
	}
	responses, err := p.Responses(ctx, courses)
	if err != nil || until == StageResponses {
		return err
	}
	links, err := p.Links(responses)
	if err != nil || until == StageLinks {
		return err
	}
	regulations, err := p.Regulations(ctx, links)
	if err != nil || until == StageRegulations {
		return err
	}
	mappings, err := p.Mappings(ctx, regulations)
	if err != nil {
		return err
	}
	p.summary.SetSubjects(mappings)
	for _, subject := range p.summary.Subjects {
		p.logger.Debug("Subject extracted", "subject", subject)
	}
	return nil
}

// Typeahead fetches the full course list. Any failure is fatal and nothing
// is stored.
func (p *Pipeline) Typeahead(ctx context.Context) ([]models.CourseEntry, error) {
	key := StageTypeahead.File(p.cfg.Files)
	courses, hit, err := caching.GetOrCompute(p.store, key, func() ([]models.CourseEntry, error) {
		p.logger.Info("Fetching typeahead results")
		body, err := p.client.PostForm(ctx, p.cfg.Site.TypeaheadPath, map[string]string{"searchString": ""})
		if err != nil {
			return nil, err
		}
		courses := []models.CourseEntry{}
		if err := json.Unmarshal(body, &courses); err != nil {
			return nil, fmt.Errorf("failed to decode typeahead results: %w", err)
		}
		return courses, nil
	})
	if err != nil {
		return nil, fmt.Errorf("typeahead stage: %w", err)
	}
	p.finishStage(StageTypeahead, hit, len(courses), nil, nil)
	return courses, nil
}

// Responses posts one search per undergraduate course. Non-200 replies
// become error records and the course is dropped.
func (p *Pipeline) Responses(ctx context.Context, courses []models.CourseEntry) ([]models.CourseEntry, error) {
	var errs []models.ErrorRecord
	key := StageResponses.File(p.cfg.Files)
	out, hit, err := caching.GetOrCompute(p.store, key, func() ([]models.CourseEntry, error) {
		p.logger.Info("Fetching responses for undergraduate courses")
		out := []models.CourseEntry{}
		for _, course := range courses {
			if course.CourseLevel != p.cfg.Site.UndergradLevel {
				continue
			}
			p.logger.Debug("Searching regulation", "id", course.ID, "name", course.Name)
			form := map[string]string{"RegulationId": strconv.Itoa(course.ID)}
			body, err := p.client.PostForm(ctx, p.cfg.Site.SearchPath, form)
			if status, ok := statusCode(err); ok {
				errs = append(errs, models.ErrorRecord{Identifier: strconv.Itoa(course.ID), StatusCode: status})
				continue
			}
			if err != nil {
				return nil, err
			}
			course.Response = string(body)
			out = append(out, course)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("responses stage: %w", err)
	}
	p.finishStage(StageResponses, hit, len(out), errs, nil)
	return out, nil
}

// Links resolves the detail-page link of every search response.
func (p *Pipeline) Links(responses []models.CourseEntry) ([]models.CourseEntry, error) {
	var skipped []string
	key := StageLinks.File(p.cfg.Files)
	out, hit, err := caching.GetOrCompute(p.store, key, func() ([]models.CourseEntry, error) {
		p.logger.Info("Extracting links from responses")
		out := []models.CourseEntry{}
		for _, course := range responses {
			link, outcome, found := p.rules.ExtractLink(course.Response)
			switch outcome {
			case extractor.Ended:
				p.logger.Info("Course has ended", "name", course.Name)
				skipped = append(skipped, course.Name)
			case extractor.Ambiguous:
				p.logger.Warn("Expected 1 link", "name", course.Name, "found", found)
				skipped = append(skipped, course.Name)
			case extractor.Extracted:
				course.SetLink(link)
				out = append(out, course)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("links stage: %w", err)
	}
	p.finishStage(StageLinks, hit, len(out), nil, skipped)
	return out, nil
}

// Regulations fetches the detail page of every course in a recognised exam
// category. Non-200 replies become error records keyed by course name.
func (p *Pipeline) Regulations(ctx context.Context, links []models.CourseEntry) ([]models.CourseEntry, error) {
	var errs []models.ErrorRecord
	var skipped []string
	key := StageRegulations.File(p.cfg.Files)
	out, hit, err := caching.GetOrCompute(p.store, key, func() ([]models.CourseEntry, error) {
		p.logger.Info("Fetching regulations for standard subjects")
		out := []models.CourseEntry{}
		for _, course := range links {
			if !p.rules.IsStandardSubject(course.Name) {
				p.logger.Info("Skipping course", "name", course.Name)
				skipped = append(skipped, course.Name)
				continue
			}
			p.logger.Debug("Fetching regulation page", "name", course.Name, "url", course.Link)
			body, err := p.client.GetHtmlBytes(ctx, course.Link)
			if status, ok := statusCode(err); ok {
				errs = append(errs, models.ErrorRecord{Identifier: course.Name, StatusCode: status})
				continue
			}
			if err != nil {
				return nil, err
			}
			course.HTML = string(body)
			p.annotate(course, body)
			out = append(out, course)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("regulations stage: %w", err)
	}
	p.finishStage(StageRegulations, hit, len(out), errs, skipped)
	return out, nil
}

// Mappings asks the model for the papers of every regulation page. Replies
// that do not decode are kept aside and the page is left out.
func (p *Pipeline) Mappings(ctx context.Context, regulations []models.CourseEntry) ([]models.SubjectPaperMapping, error) {
	var raw []models.RawReply
	var skipped []string
	key := StageMappings.File(p.cfg.Files)
	out, hit, err := caching.GetOrCompute(p.store, key, func() ([]models.SubjectPaperMapping, error) {
		if p.newCompleter == nil {
			return nil, errors.New("no language model configured")
		}
		completer, err := p.newCompleter()
		if err != nil {
			return nil, err
		}
		ext := llm.NewExtractor(completer, p.cfg.LLM)

		p.logger.Info("Extracting papers from regulations", "model", p.cfg.LLM.Model, "pages", len(regulations))
		out := []models.SubjectPaperMapping{}
		for _, course := range regulations {
			portion, err := p.parser.RelevantPortion(course.Link, course.HTML)
			if err != nil {
				p.logger.Warn("Could not isolate regulation text", "name", course.Name, "error", err)
				skipped = append(skipped, course.Name)
				continue
			}
			mapping, err := ext.Extract(ctx, portion)
			var replyErr *llm.ReplyError
			if errors.As(err, &replyErr) {
				p.logger.Warn("Could not parse response", "name", course.Name)
				raw = append(raw, models.RawReply{Name: course.Name, Reply: replyErr.Reply})
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, mapping)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mappings stage: %w", err)
	}

	if len(raw) > 0 {
		p.logger.Warn("Responses were invalid JSON", "count", len(raw))
		if err := p.saveRawReplies(raw); err != nil {
			return nil, err
		}
		p.summary.RawReplies = len(raw)
	}
	p.finishStage(StageMappings, hit, len(out), nil, skipped)
	return out, nil
}

func (p *Pipeline) saveRawReplies(raw []models.RawReply) error {
	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode raw replies: %w", err)
	}
	if err := p.store.Set(p.cfg.Files.RawReplies, data); err != nil {
		return fmt.Errorf("failed to save raw replies: %w", err)
	}
	if p.ledger != nil {
		if err := p.ledger.RecordRawReplies(p.runID, raw); err != nil {
			p.logger.Warn("Failed to record raw replies", "error", err)
		}
	}
	return nil
}

// annotate records the page title and language in the ledger. It never
// fails the stage.
func (p *Pipeline) annotate(course models.CourseEntry, body []byte) {
	if p.ledger == nil {
		return
	}
	info, err := parser.Inspect(course.HTML)
	if err != nil {
		p.logger.Debug("Could not inspect page", "name", course.Name, "error", err)
	}
	if p.detector == nil {
		p.detector = detector.New()
	}
	lang := p.detector.Detect(info.Text)

	err = p.ledger.RecordPage(p.runID, db.PageRecord{
		CourseID:           course.ID,
		CourseName:         course.Name,
		URL:                course.Link,
		Title:              info.Title,
		Language:           lang.Code,
		LanguageConfidence: lang.Confidence,
		SizeBytes:          int64(len(body)),
		ContentHash:        common.ContentHash(body),
	})
	if err != nil {
		p.logger.Warn("Failed to record page", "name", course.Name, "error", err)
	}
}

// finishStage logs the outcome of a stage and reports it to the ledger and
// the run summary.
func (p *Pipeline) finishStage(stage Stage, hit bool, items int, errs []models.ErrorRecord, skipped []string) {
	file := stage.File(p.cfg.Files)
	if hit {
		p.logger.Info("Stage loaded from cache", "stage", stage, "file", file, "items", items)
	} else {
		p.logger.Info("Stage saved", "stage", stage, "file", file, "items", items)
	}
	if len(errs) > 0 {
		p.logger.Warn("Errors occurred", "stage", stage, "count", len(errs), "errors", errs)
	}

	p.summary.AddStage(manifest.StageSummary{
		Name:     string(stage),
		File:     file,
		CacheHit: hit,
		Items:    items,
		Errors:   errs,
		Skipped:  skipped,
	})

	if p.ledger == nil {
		return
	}
	ev := db.StageEvent{Stage: string(stage), CacheHit: hit, ItemCount: items, ErrorCount: len(errs)}
	if err := p.ledger.RecordStage(p.runID, ev); err != nil {
		p.logger.Warn("Failed to record stage", "stage", stage, "error", err)
	}
	if err := p.ledger.RecordFetchErrors(p.runID, string(stage), errs); err != nil {
		p.logger.Warn("Failed to record fetch errors", "stage", stage, "error", err)
	}
}

// statusCode extracts the HTTP status from a *fetcher.StatusError.
func statusCode(err error) (int, bool) {
	var statusErr *fetcher.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}
