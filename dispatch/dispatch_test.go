package dispatch

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onclave/fantail/cachecore"
	"github.com/onclave/fantail/middleware"
	"github.com/onclave/fantail/router"
	"github.com/onclave/fantail/routecache"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *router.Trie) {
	t.Helper()
	tr := router.New()
	rc := routecache.New(100, time.Minute, 1000)
	d := New(Options{
		Router:        tr,
		RouteCache:    rc,
		ResponseCache: cachecore.New(cachecore.Options{Capacity: 100, TTL: time.Minute}),
		Chain:         middleware.NewChain(),
	})
	return d, tr
}

func doGet(d *Dispatcher, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rw := httptest.NewRecorder()
	d.ServeHTTP(rw, req)
	return rw
}

func TestRouteCacheConsultedOnSecondRequest(t *testing.T) {
	d, tr := newTestDispatcher(t)
	calls := 0
	if err := tr.Insert("/widgets/{id}", router.NewMethodSet("GET"), func(ctx any) (any, error) {
		calls++
		c := ctx.(*Context)
		return map[string]string{"id": c.PathParams["id"]}, nil
	}, nil); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		rw := doGet(d, "/widgets/42")
		if rw.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i, rw.Code, rw.Body.String())
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler invoked twice (cache stores the resolved route, not the response), got %d", calls)
	}
	if hits := d.routeCache.Stats().CacheStats.Hits; hits != 1 {
		t.Fatalf("expected the second request to hit the route cache once, got %d hits", hits)
	}
	if _, _, _, _, _, ok := tr.Lookup("/widgets/42", "GET"); !ok {
		t.Fatal("sanity: trie lookup should still resolve independently of the route cache")
	}
}

func TestCacheableRouteServesMemoizedResponse(t *testing.T) {
	d, tr := newTestDispatcher(t)
	calls := 0
	if err := tr.Insert("/stats", router.NewMethodSet("GET"), func(ctx any) (any, error) {
		calls++
		return map[string]int{"calls": calls}, nil
	}, []string{"cacheable"}); err != nil {
		t.Fatal(err)
	}

	first := doGet(d, "/stats")
	second := doGet(d, "/stats")

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both requests to succeed, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected handler invoked once, second request served from responseCache, got %d calls", calls)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical cached body, got %q vs %q", first.Body.String(), second.Body.String())
	}
}

func TestNonCacheableRouteRunsEveryTime(t *testing.T) {
	d, tr := newTestDispatcher(t)
	calls := 0
	if err := tr.Insert("/uncached", router.NewMethodSet("GET"), func(ctx any) (any, error) {
		calls++
		return map[string]int{"calls": calls}, nil
	}, nil); err != nil {
		t.Fatal(err)
	}

	doGet(d, "/uncached")
	doGet(d, "/uncached")
	if calls != 2 {
		t.Fatalf("expected handler invoked on every request without the cacheable tag, got %d", calls)
	}
}

func TestHandlerPanicBecomesInternalErrorAndRunsAfterHooks(t *testing.T) {
	tr := router.New()
	rc := routecache.New(100, time.Minute, 1000)
	afterRan := false
	chain := middleware.NewChain(middleware.MiddlewareFunc{
		AfterFn: func(ctx *middleware.Context) { afterRan = true },
	})
	d := New(Options{
		Router:        tr,
		RouteCache:    rc,
		ResponseCache: cachecore.New(cachecore.Options{Capacity: 10, TTL: time.Minute}),
		Chain:         chain,
	})
	if err := tr.Insert("/boom", router.NewMethodSet("GET"), func(ctx any) (any, error) {
		panic("kaboom")
	}, nil); err != nil {
		t.Fatal(err)
	}

	rw := doGet(d, "/boom")
	if rw.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on recovered panic, got %d", rw.Code)
	}
	if !afterRan {
		t.Fatal("expected middleware After hook to run even though the handler panicked")
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	d, _ := newTestDispatcher(t)
	rw := doGet(d, "/nope")
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}
