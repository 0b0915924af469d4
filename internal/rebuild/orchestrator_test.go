package rebuild

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/audit"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/cache"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/extract"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/metrics"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/rebuild/target"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve/search"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve/search/mocks"
)

var clock = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type OrchestratorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	crossref  *mocks.MockProvider
	reader    *extract.MemoryReader
	store     *cache.InMemoryResolutions
	target    *target.Memory
	published *audit.MemoryPublisher
	metrics   *metrics.Metrics
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.crossref = mocks.NewMockProvider(s.ctrl)
	s.crossref.EXPECT().ID().Return(search.CrossrefID).AnyTimes()
	s.reader = extract.NewMemoryReader()
	s.store = cache.NewInMemoryResolutions()
	s.target = target.NewMemory()
	s.published = audit.NewMemoryPublisher()
	s.metrics = metrics.New(prometheus.NewRegistry())

	s.reader.Add(1,
		output(1, 7, "Moths", "", ""),
		output(1, 8, "Wasps", "", "https://doi.org/10.5555/wasp"),
	)
	s.reader.Add(2, output(2, 5, "Bees of Kent", "doi:10.1234/abc", ""))
	s.reader.Add(3,
		output(3, 1, "Bees of Kent", "", ""),
		output(3, 4, "Wasps of Essex", "10.5555/WASP", ""),
	)
}

func output(round int, local int64, title, ref, url string) models.RawOutput {
	return models.RawOutput{
		Key:           models.Key{Round: round, LocalID: local},
		Title:         title,
		ReferenceText: ref,
		URL:           url,
	}
}

func (s *OrchestratorSuite) orchestrator(opts ...Option) *Orchestrator {
	r, err := resolve.New(s.store, resolve.DefaultStrategies(s.crossref),
		resolve.WithClock(func() time.Time { return clock }))
	s.Require().NoError(err)
	base := []Option{
		WithEmitter(audit.NewEmitter(s.published)),
		WithMetrics(s.metrics),
	}
	return New(extract.New(s.reader, []int{1, 2, 3}), resolve.NewPool(r, 4), s.target, append(base, opts...)...)
}

func (s *OrchestratorSuite) expectSearches() {
	s.crossref.EXPECT().Search(gomock.Any(), search.Query{Title: "moths"}).Return(nil, nil)
	s.crossref.EXPECT().Search(gomock.Any(), search.Query{Title: "bees of kent"}).
		Return([]search.Candidate{{Identifier: "10.1234/abc", Title: "Bees of Kent"}}, nil)
}

func (s *OrchestratorSuite) TestFullRebuild() {
	s.expectSearches()

	summary, err := s.orchestrator().Run(context.Background(), Options{})
	s.Require().NoError(err)

	s.NotEmpty(summary.RunID)
	s.Equal(5, summary.Extracted)
	s.Equal(4, summary.Resolved)
	s.Equal(1, summary.NoMatch)
	s.Zero(summary.Errors)
	s.Equal(map[models.Method]int{models.MethodPattern: 2, models.MethodURL: 1, "crossref": 1}, summary.ByMethod)
	s.Equal(3, summary.Groups)
	s.Equal(2, summary.MergedGroups)
	s.Equal(1, summary.TitleDisagreements)

	outputs := s.target.Outputs()
	s.Require().Len(outputs, 3)
	s.Equal(models.CanonicalOutput{
		ID: 1, Title: "Moths", Provenance: []models.Key{{Round: 1, LocalID: 7}}, Rounds: []int{1},
	}, outputs[0])
	s.Equal("10.5555/wasp", outputs[1].Identifier)
	s.Equal("Wasps of Essex", outputs[1].Title)
	s.True(outputs[1].TitleDisagreement)
	s.Equal("10.1234/abc", outputs[2].Identifier)
	s.Equal([]int{2, 3}, outputs[2].Rounds)
	s.Len(s.target.Mappings(), 5)

	flags := s.published.ByKind(audit.KindTitleDisagreement)
	s.Require().Len(flags, 1)
	s.Equal(summary.RunID, flags[0].RunID)
	s.Equal(int64(2), flags[0].Flag.CanonicalID)
	runs := s.published.ByKind(audit.KindRunCompleted)
	s.Require().Len(runs, 1)
	s.Equal(4, runs[0].Run.Resolved)

	s.Equal(3.0, testutil.ToFloat64(s.metrics.Groups))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.TitleDisagreements))
}

func (s *OrchestratorSuite) TestSecondRunIsStableAndCached() {
	s.expectSearches()

	first, err := s.orchestrator().Run(context.Background(), Options{})
	s.Require().NoError(err)
	firstOutputs, firstMappings := s.target.Outputs(), s.target.Mappings()

	second, err := s.orchestrator().Run(context.Background(), Options{})
	s.Require().NoError(err)

	s.NotEqual(first.RunID, second.RunID)
	s.Equal(5, second.Cached)
	s.Equal(firstOutputs, s.target.Outputs())
	s.ElementsMatch(firstMappings, s.target.Mappings())
}

func (s *OrchestratorSuite) TestIntegrityErrorLeavesTargetUntouched() {
	s.reader.Add(2, output(2, 5, "Duplicate", "", ""))

	_, err := s.orchestrator().Run(context.Background(), Options{})

	var integrity *extract.IntegrityError
	s.Require().ErrorAs(err, &integrity)
	s.Equal(models.Key{Round: 2, LocalID: 5}, integrity.Key)
	s.Zero(s.target.Commits())
	s.Zero(s.store.Len())
}

func (s *OrchestratorSuite) TestWithoutDataResetsTarget() {
	s.expectSearches()
	_, err := s.orchestrator().Run(context.Background(), Options{})
	s.Require().NoError(err)
	s.Require().NotEmpty(s.target.Outputs())

	summary, err := s.orchestrator().Run(context.Background(), Options{WithoutData: true})
	s.Require().NoError(err)

	s.Zero(summary.Extracted)
	s.Empty(s.target.Outputs())
	s.Empty(s.target.Mappings())
	s.Equal(2, s.target.Commits())
}

func (s *OrchestratorSuite) TestResolveOnlyWarmsCache() {
	s.expectSearches()

	summary, err := s.orchestrator().Run(context.Background(), Options{ResolveOnly: true})
	s.Require().NoError(err)

	s.Equal(4, summary.Resolved)
	s.Zero(summary.Groups)
	s.Equal(5, s.store.Len())
	s.Zero(s.target.Commits())
	s.Empty(s.published.ByKind(audit.KindTitleDisagreement))
}

func (s *OrchestratorSuite) TestMetadataStep() {
	s.expectSearches()
	fetcher := mocks.NewMockMetadataFetcher(s.ctrl)
	for _, id := range []string{"10.5555/wasp", "10.1234/abc"} {
		fetcher.EXPECT().Fetch(gomock.Any(), id).Return(&search.Metadata{
			Identifier: id, Title: "t", Source: search.CrossrefID, Payload: []byte(`{}`), FetchedAt: clock,
		}, nil)
	}
	mdStore := cache.NewInMemoryMetadata()

	summary, err := s.orchestrator(WithMetadata(resolve.NewMetadataStep(fetcher, mdStore, 2, nil))).
		Run(context.Background(), Options{})
	s.Require().NoError(err)

	s.Equal(resolve.MetadataSummary{Fetched: 2}, summary.Metadata)
	ok, err := mdStore.Contains(context.Background(), "10.1234/abc")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *OrchestratorSuite) TestAuditFailureIsNotFatal() {
	s.expectSearches()
	s.published.FailWith(errors.New("broker down"))

	_, err := s.orchestrator().Run(context.Background(), Options{})
	s.Require().NoError(err)
	s.Len(s.target.Outputs(), 3)
}

func (s *OrchestratorSuite) TestWriteFailureIsReturned() {
	s.expectSearches()
	r, err := resolve.New(s.store, resolve.DefaultStrategies(s.crossref))
	s.Require().NoError(err)

	o := New(extract.New(s.reader, []int{1, 2, 3}), resolve.NewPool(r, 2), failingWriter{})
	_, err = o.Run(context.Background(), Options{})
	s.Require().Error(err)
	s.Contains(err.Error(), "write")
}

func (s *OrchestratorSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.orchestrator().Run(ctx, Options{})
	s.Require().ErrorIs(err, context.Canceled)
	s.Zero(s.target.Commits())
}

type failingWriter struct{}

func (failingWriter) Apply(context.Context, func(target.Tx) error) error {
	return errors.New("connection reset")
}
