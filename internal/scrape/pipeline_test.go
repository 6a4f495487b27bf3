package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dtnitsch/regscrape/models"
	"github.com/dtnitsch/regscrape/pkg/caching"
	"github.com/dtnitsch/regscrape/pkg/db"
	"github.com/dtnitsch/regscrape/pkg/fetcher"
	"github.com/dtnitsch/regscrape/pkg/llm"
	"github.com/dtnitsch/regscrape/pkg/storage"
	"github.com/stretchr/testify/require"
)

const typeaheadBody = `[
	{"Id": 1, "Name": "FHS Physics", "CourseLevel": 1},
	{"Id": 2, "Name": "FHS Old Course", "CourseLevel": 1},
	{"Id": 3, "Name": "Prelim Music", "CourseLevel": 1},
	{"Id": 4, "Name": "MSc Statistics", "CourseLevel": 2},
	{"Id": 5, "Name": "Foundation Year Art", "CourseLevel": 1},
	{"Id": 6, "Name": "FHS Broken", "CourseLevel": 1},
	{"Id": 7, "Name": "Moderations in Classics", "CourseLevel": 1},
	{"Id": 8, "Name": "FHS Twice", "CourseLevel": 1}
]`

var searchBodies = map[string]string{
	"1": `<div><a href="/Regulation?code=fhs-phys">FHS Physics</a></div>`,
	"2": `<div>This regulation ended in 2019 <a href="/Regulation?code=old">old</a></div>`,
	"3": `<div><a href="/Regulation?code=prelim-music">Prelim Music</a></div>`,
	"5": `<div><a href="/Regulation?code=found-art">Foundation</a></div>`,
	"7": `<div><a href="/Regulation?code=mods-classics">Mods</a></div>`,
	"8": `<a href="/Regulation?code=a">a</a><a href="/Regulation?code=b">b</a>`,
}

func regulationPage(title, body string) string {
	return `<html><head><title>` + title + `</title></head><body>
<nav>Menu</nav>
<p>You are viewing the regulations for ` + title + `</p>
<ul>` + body + `</ul>
<div class="section-index-sidebar-wrapper">Index</div>
</body></html>`
}

type fakeSite struct {
	server   *httptest.Server
	requests atomic.Int64
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()
	site := &fakeSite{}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.requests.Add(1)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/Home/RegulationTypeahead":
			_, _ = io.WriteString(w, typeaheadBody)
		case r.Method == http.MethodPost && r.URL.Path == "/Home/RegulationSearch":
			_ = r.ParseForm()
			body, ok := searchBodies[r.PostForm.Get("RegulationId")]
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = io.WriteString(w, body)
		case r.Method == http.MethodGet && r.URL.Path == "/Regulation":
			switch r.URL.Query().Get("code") {
			case "fhs-phys":
				_, _ = io.WriteString(w, regulationPage("FHS Physics", `<li>A1 Thermal Physics</li><li>A2 Electromagnetism</li>`))
			case "mods-classics":
				_, _ = io.WriteString(w, regulationPage("Moderations in Classics", `<li>Homer, Iliad</li>`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	t.Cleanup(site.server.Close)
	return site
}

type fakeCompleter struct {
	calls atomic.Int64
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.calls.Add(1)
	if strings.Contains(user, "Thermal Physics") {
		return `{"Physics": [{"code": "A1", "name": "Thermal Physics", "level": "Finals"}, {"code": "A2", "name": "Electromagnetism", "level": "Finals"}]}`, nil
	}
	return "I could not find any papers.", nil
}

func testConfig(baseURL, dir string) *models.Config {
	cfg := models.DefaultConfig()
	cfg.ScrapeDir = dir
	cfg.Site.BaseURL = baseURL
	cfg.HTTP.Headers = map[string]string{"User-Agent": "regscrape-test"}
	return cfg
}

func newTestPipeline(t *testing.T, cfg *models.Config, store caching.Store, ledger Ledger, completer llm.Completer) *Pipeline {
	t.Helper()
	p, err := New(cfg, Options{
		Store:        store,
		Client:       fetcher.NewFetcher(cfg.Site.BaseURL, cfg.HTTP),
		Ledger:       ledger,
		RunID:        1,
		NewCompleter: func() (llm.Completer, error) { return completer, nil },
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return p
}

func TestPipeline_FullRun(t *testing.T) {
	site := newFakeSite(t)
	dir := t.TempDir()
	cfg := testConfig(site.server.URL, dir)
	store, err := caching.NewFileStore(dir)
	require.NoError(t, err)
	ledger, err := db.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()
	runID, err := ledger.StartRun("")
	require.NoError(t, err)

	completer := &fakeCompleter{}
	p, err := New(cfg, Options{
		Store:        store,
		Client:       fetcher.NewFetcher(cfg.Site.BaseURL, cfg.HTTP),
		Ledger:       ledger,
		RunID:        runID,
		NewCompleter: func() (llm.Completer, error) { return completer, nil },
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background(), StageMappings))

	var courses []models.CourseEntry
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, cfg.Files.Typeahead), &courses))
	require.Len(t, courses, 8)

	var responses []models.CourseEntry
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, cfg.Files.Responses), &responses))
	require.Len(t, responses, 6, "graduate course and failed search are dropped")

	var links []models.CourseEntry
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, cfg.Files.Links), &links))
	require.Len(t, links, 4)
	for _, l := range links {
		require.Empty(t, l.Response)
		require.True(t, strings.HasPrefix(l.Link, site.server.URL+"/Regulation?code="))
	}

	var regulations []models.CourseEntry
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, cfg.Files.Regulations), &regulations))
	require.Len(t, regulations, 2)
	require.Equal(t, "FHS Physics", regulations[0].Name)
	require.Equal(t, "Moderations in Classics", regulations[1].Name)

	var mappings []models.SubjectPaperMapping
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, cfg.Files.Mappings), &mappings))
	require.Len(t, mappings, 1)
	require.Len(t, mappings[0]["Physics"], 2)

	var raw []models.RawReply
	require.NoError(t, storage.ReadJSON(filepath.Join(dir, cfg.Files.RawReplies), &raw))
	require.Equal(t, []models.RawReply{{Name: "Moderations in Classics", Reply: "I could not find any papers."}}, raw)

	fetchErrors, err := ledger.GetFetchErrors(runID)
	require.NoError(t, err)
	require.Len(t, fetchErrors, 2)
	require.Equal(t, "responses", fetchErrors[0].Stage)
	require.Equal(t, "6", fetchErrors[0].Identifier)
	require.Equal(t, 500, fetchErrors[0].StatusCode)
	require.Equal(t, "regulations", fetchErrors[1].Stage)
	require.Equal(t, "Prelim Music", fetchErrors[1].Identifier)
	require.Equal(t, 404, fetchErrors[1].StatusCode)

	replies, err := ledger.GetRawReplies(runID)
	require.NoError(t, err)
	require.Len(t, replies, 1)

	var title, lang string
	err = ledger.QueryRow("SELECT title, language FROM regulation_pages WHERE run_id = ? AND course_id = 1", runID).Scan(&title, &lang)
	require.NoError(t, err)
	require.Equal(t, "FHS Physics", title)
	require.Equal(t, "en", lang)

	summary := p.Summary()
	require.Len(t, summary.Stages, 5)
	require.Equal(t, []string{"Physics"}, summary.Subjects)
	require.Equal(t, 1, summary.RawReplies)
	_, err = os.Stat(filepath.Join(dir, cfg.Files.Summary))
	require.NoError(t, err)
}

func TestPipeline_SecondRunIsServedFromCache(t *testing.T) {
	backends := []string{"file", "sqlite"}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			site := newFakeSite(t)
			dir := t.TempDir()
			cfg := testConfig(site.server.URL, dir)

			ledger, err := db.Open(filepath.Join(dir, "ledger.db"))
			require.NoError(t, err)
			defer ledger.Close()

			var store caching.Store = ledger.CacheStore()
			if backend == "file" {
				store, err = caching.NewFileStore(dir)
				require.NoError(t, err)
			}

			completer := &fakeCompleter{}
			first := newTestPipeline(t, cfg, store, ledger, completer)
			require.NoError(t, first.Run(context.Background(), StageMappings))
			requests, calls := site.requests.Load(), completer.calls.Load()
			require.NotZero(t, requests)
			require.Equal(t, int64(2), calls)

			snapshot := snapshotStore(t, store, cfg)

			second := newTestPipeline(t, cfg, store, ledger, completer)
			require.NoError(t, second.Run(context.Background(), StageMappings))

			require.Equal(t, requests, site.requests.Load(), "second run must not touch the network")
			require.Equal(t, calls, completer.calls.Load(), "second run must not call the model")
			require.Equal(t, snapshot, snapshotStore(t, store, cfg))
			for _, st := range second.Summary().Stages {
				require.True(t, st.CacheHit, "stage %s", st.Name)
			}
		})
	}
}

func TestPipeline_UntilStopsEarly(t *testing.T) {
	site := newFakeSite(t)
	dir := t.TempDir()
	cfg := testConfig(site.server.URL, dir)
	store, err := caching.NewFileStore(dir)
	require.NoError(t, err)

	p, err := New(cfg, Options{
		Store:  store,
		Client: fetcher.NewFetcher(cfg.Site.BaseURL, cfg.HTTP),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), StageLinks))

	_, err = os.Stat(filepath.Join(dir, cfg.Files.Links))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, cfg.Files.Regulations))
	require.True(t, os.IsNotExist(err))
	require.Len(t, p.Summary().Stages, 3)
	require.Equal(t, []string{"FHS Old Course", "FHS Twice"}, p.Summary().Stages[2].Skipped)
}

func TestPipeline_TypeaheadFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testConfig(srv.URL, dir)
	store, err := caching.NewFileStore(dir)
	require.NoError(t, err)

	p := newTestPipeline(t, cfg, store, nil, &fakeCompleter{})
	err = p.Run(context.Background(), StageMappings)
	require.Error(t, err)

	var statusErr *fetcher.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.StatusCode)

	_, ok, err := store.Get(cfg.Files.Typeahead)
	require.NoError(t, err)
	require.False(t, ok, "nothing is cached when the typeahead fails")
}

func TestPipeline_MalformedCacheIsAnError(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig("http://127.0.0.1:1", dir)
	store, err := caching.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set(cfg.Files.Typeahead, []byte("{not json")))

	p := newTestPipeline(t, cfg, store, nil, &fakeCompleter{})
	require.Error(t, p.Run(context.Background(), StageTypeahead))
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in      string
		want    Stage
		wantErr bool
	}{
		{"", StageMappings, false},
		{"links", StageLinks, false},
		{"Regulations", StageRegulations, false},
		{"html", "", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got, err := ParseStage(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func snapshotStore(t *testing.T, store caching.Store, cfg *models.Config) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, st := range Stages {
		data, ok, err := store.Get(st.File(cfg.Files))
		require.NoError(t, err)
		require.True(t, ok, "stage %s not stored", st)
		out[string(st)] = string(data)
	}
	return out
}
