package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"pulse/internal/domain/engagement"

	"github.com/stretchr/testify/suite"
)

// rpcRecorder is an in-process PostgREST stand-in. Each request pops
// the next queued status code; 200 with no queue.
type rpcRecorder struct {
	mu       sync.Mutex
	statuses []int
	requests []rpcCall
}

type rpcCall struct {
	path       string
	apikey     string
	authHeader string
	params     map[string]any
}

func (r *rpcRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var params map[string]any
	_ = json.NewDecoder(req.Body).Decode(&params)
	r.requests = append(r.requests, rpcCall{
		path:       req.URL.Path,
		apikey:     req.Header.Get("apikey"),
		authHeader: req.Header.Get("Authorization"),
		params:     params,
	})

	status := http.StatusOK
	if len(r.statuses) > 0 {
		status = r.statuses[0]
		r.statuses = r.statuses[1:]
	}
	w.WriteHeader(status)
}

func (r *rpcRecorder) calls() []rpcCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rpcCall(nil), r.requests...)
}

type SupabaseStoreTestSuite struct {
	suite.Suite
	recorder *rpcRecorder
	server   *httptest.Server
	store    *SupabaseStore
	ctx      context.Context
}

func (s *SupabaseStoreTestSuite) SetupTest() {
	s.recorder = &rpcRecorder{}
	s.server = httptest.NewServer(s.recorder)

	store, err := NewSupabaseStore(s.server.URL, "service-key")
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()
}

func (s *SupabaseStoreTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *SupabaseStoreTestSuite) TestApplyDeltaSendsRPCRequest() {
	err := s.store.ApplyDelta(s.ctx, "post-1", engagement.TargetPost, engagement.OpLike, 7)
	s.Require().NoError(err)

	calls := s.recorder.calls()
	s.Require().Len(calls, 1)
	s.Equal("/rest/v1/rpc/apply_engagement_delta", calls[0].path)
	s.Equal("service-key", calls[0].apikey)
	s.Equal("Bearer service-key", calls[0].authHeader)
	s.Equal("post-1", calls[0].params["p_target_id"])
	s.Equal("post", calls[0].params["p_target_type"])
	s.Equal("like", calls[0].params["p_op"])
	s.Equal(float64(7), calls[0].params["p_delta"])
}

func (s *SupabaseStoreTestSuite) TestApplyDeltaSurfacesServerErrors() {
	s.recorder.statuses = []int{http.StatusInternalServerError}

	err := s.store.ApplyDelta(s.ctx, "post-1", engagement.TargetPost, engagement.OpLike, 3)
	s.Require().Error(err)
	s.Contains(err.Error(), "status 500")
}

func (s *SupabaseStoreTestSuite) TestApplyDeltaCallsAreIndependent() {
	s.recorder.statuses = []int{http.StatusBadGateway}

	err := s.store.ApplyDelta(s.ctx, "post-1", engagement.TargetPost, engagement.OpLike, 1)
	s.Require().Error(err)

	// A failure must not bleed into later calls.
	err = s.store.ApplyDelta(s.ctx, "post-1", engagement.TargetPost, engagement.OpLike, 1)
	s.Require().NoError(err)

	err = s.store.ApplyDelta(s.ctx, "post-2", engagement.TargetPost, engagement.OpView, 5)
	s.Require().NoError(err)
}

func (s *SupabaseStoreTestSuite) TestApplyDeltaConcurrentCalls() {
	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.store.ApplyDelta(s.ctx, "post-1", engagement.TargetPost, engagement.OpLike, 1)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.Require().NoError(err)
	}
	s.Len(s.recorder.calls(), 16)
}

func TestSupabaseStoreTestSuite(t *testing.T) {
	suite.Run(t, new(SupabaseStoreTestSuite))
}
