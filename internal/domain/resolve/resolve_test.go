package resolve_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/okian/bikeharvest/internal/adapters/fetch"
	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/resolve"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var extractedAt = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu   sync.Mutex
	comp map[string]*model.ComprehensiveRecord
	raw  map[string]*model.RawRecord
	err  error
}

func newStore() *fakeStore {
	return &fakeStore{comp: map[string]*model.ComprehensiveRecord{}, raw: map[string]*model.RawRecord{}}
}

func (s *fakeStore) Comprehensive(_ context.Context, key string) (*model.ComprehensiveRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comp[key], s.err
}

func (s *fakeStore) Raw(_ context.Context, key string) (*model.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw[key], s.err
}

type fakeFetcher struct {
	html  string
	err   error
	calls int
}

func (f *fakeFetcher) FetchDocument(_ context.Context, _ string) (*goquery.Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(f.html))
}

type fakeExtractor struct {
	rec   model.RawRecord
	calls int
}

func (e *fakeExtractor) Extract(_ context.Context, key, pageURL string, _ *goquery.Document) model.RawRecord {
	e.calls++
	rec := e.rec
	rec.Key, rec.URL = key, pageURL
	return rec
}

type fakeLocker struct {
	held     bool
	released int
	onLock   func()
}

func (l *fakeLocker) Lock(_ context.Context, _ string) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	if l.onLock != nil {
		l.onLock()
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}

func makers() *normalize.StaticDirectory {
	return normalize.NewStaticDirectory(map[string]string{"Trek": "mk_trek"})
}

func comprehensive(key string, payload any) *model.ComprehensiveRecord {
	data, _ := json.Marshal(payload)
	return &model.ComprehensiveRecord{Key: key, Payload: data, ExtractedAt: extractedAt}
}

func sufficientProduct() map[string]any {
	return map[string]any{
		"name":      "Trek FX 3 Disc",
		"brand":     map[string]any{"name": "Trek", "identifier": "mk_trek"},
		"model":     "FX 3 Disc",
		"modelYear": 2024,
	}
}

func domRecord(name string) model.RawRecord {
	return model.RawRecord{
		Source:  types.SourceTier3,
		Success: true,
		Payload: model.DomScraped{Name: name, Specs: map[string]string{"Frame": "Alpha Aluminum"}},
	}
}

func item(key string) model.WorkItem {
	return model.WorkItem{Key: key, SourceURL: "https://bikes.example.com/" + key}
}

func TestDecoder(t *testing.T) {
	Convey("Given the default tier-1 decoder", t, func() {
		d := resolve.NewDecoder()

		Convey("When the product is nested under a known path", func() {
			rec, err := d.Decode(comprehensive("k", map[string]any{
				"props": map[string]any{"pageProps": map[string]any{"product": sufficientProduct()}},
			}))

			Convey("Then it is found and counted", func() {
				So(err, ShouldBeNil)
				So(rec.Source, ShouldEqual, types.SourceTier1)
				So(rec.Success, ShouldBeTrue)
				p, ok := rec.Structured()
				So(ok, ShouldBeTrue)
				So(p.Origin, ShouldEqual, "tier1:props.pageProps.product")
				So(rec.ExtractedAt.Equal(extractedAt), ShouldBeTrue)
			})
		})

		Convey("When the whole payload is a JSON string", func() {
			inner, _ := json.Marshal(map[string]any{"product": sufficientProduct()})
			rec, err := d.Decode(comprehensive("k", string(inner)))

			Convey("Then the string is decoded first", func() {
				So(err, ShouldBeNil)
				p, _ := rec.Structured()
				So(p.Product["model"], ShouldEqual, "FX 3 Disc")
			})
		})

		Convey("When the product sub-object is itself a string", func() {
			inner, _ := json.Marshal(sufficientProduct())
			rec, err := d.Decode(comprehensive("k", map[string]any{"bike": string(inner)}))

			Convey("Then it is decoded too", func() {
				So(err, ShouldBeNil)
				p, _ := rec.Structured()
				So(p.Origin, ShouldEqual, "tier1:bike")
			})
		})

		Convey("When the root itself is the product", func() {
			rec, err := d.Decode(comprehensive("k", sufficientProduct()))

			Convey("Then the root path matches", func() {
				So(err, ShouldBeNil)
				p, _ := rec.Structured()
				So(p.Origin, ShouldEqual, "tier1:@")
			})
		})

		Convey("When nothing looks like a product", func() {
			_, err := d.Decode(comprehensive("k", map[string]any{"unrelated": true}))

			Convey("Then ErrNoProduct is returned", func() {
				So(errors.Is(err, resolve.ErrNoProduct), ShouldBeTrue)
			})
		})

		Convey("When the payload is not JSON", func() {
			_, err := d.Decode(&model.ComprehensiveRecord{Key: "k", Payload: json.RawMessage(`{broken`)})

			Convey("Then ErrUndecodable is returned", func() {
				So(errors.Is(err, resolve.ErrUndecodable), ShouldBeTrue)
			})
		})
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	Convey("Given a resolver with a maker directory", t, func() {
		store := newStore()

		Convey("When tier 1 holds a sufficient record", func() {
			store.comp["k"] = comprehensive("k", map[string]any{"product": sufficientProduct()})
			fetcher := &fakeFetcher{}
			r := resolve.New(store, resolve.WithMakers(makers()),
				resolve.WithLiveFetch(fetcher, &fakeExtractor{rec: domRecord("Trek FX 3 2024")}))
			res, err := r.Resolve(ctx, item("k"))

			Convey("Then tier 1 wins without fetching", func() {
				So(err, ShouldBeNil)
				So(res.Source, ShouldEqual, types.SourceTier1)
				So(res.Record.Identity.MakerID, ShouldEqual, "mk_trek")
				So(res.Record.URL, ShouldEqual, "https://bikes.example.com/k")
				So(fetcher.calls, ShouldEqual, 0)
			})
		})

		Convey("When tier 1 lacks a maker id but tier 2 is sufficient", func() {
			p := sufficientProduct()
			p["brand"] = "Trek"
			store.comp["k"] = comprehensive("k", map[string]any{"product": p})
			store.raw["k"] = &model.RawRecord{
				Key: "k", Source: types.SourceTier3, Success: true,
				Identity: model.Identity{Make: "Trek", Model: "FX 3", Year: 2024, MakerID: "mk_trek"},
				Payload:  model.DomScraped{Name: "FX 3"},
			}
			r := resolve.New(store, resolve.WithMakers(makers()))
			res, err := r.Resolve(ctx, item("k"))

			Convey("Then tier 2 is used", func() {
				So(err, ShouldBeNil)
				So(res.Source, ShouldEqual, types.SourceTier2)
			})
		})

		Convey("When tier 2 carries a maker id the directory does not know", func() {
			store.raw["k"] = &model.RawRecord{
				Key: "k", Success: true,
				Identity: model.Identity{Make: "Trek", Model: "FX 3", Year: 2024, MakerID: "mk_unknown"},
				Payload:  model.DomScraped{Name: "FX 3"},
			}

			Convey("And live fetch is disabled", func() {
				r := resolve.New(store, resolve.WithMakers(makers()))
				_, err := r.Resolve(ctx, item("k"))

				Convey("Then an insufficient-data error names the unresolved id", func() {
					var ide *resolve.InsufficientDataError
					So(errors.As(err, &ide), ShouldBeTrue)
					So(ide.Source, ShouldEqual, types.SourceTier2)
					So(ide.Missing, ShouldContain, normalize.MissingUnknownMakerID)
					So(errors.Is(err, resolve.ErrLiveFetchDisabled), ShouldBeTrue)
					So(errors.Is(err, resolve.ErrInsufficientData), ShouldBeTrue)
				})
			})

			Convey("And live fetch is enabled", func() {
				fetcher := &fakeFetcher{html: "<html></html>"}
				r := resolve.New(store, resolve.WithMakers(makers()),
					resolve.WithLiveFetch(fetcher, &fakeExtractor{rec: domRecord("Trek FX 3 2024")}))
				item := item("k")
				item.Identity = model.Identity{Make: "Trek"}
				res, err := r.Resolve(ctx, item)

				Convey("Then tier 3 runs and the maker id is looked up by name", func() {
					So(err, ShouldBeNil)
					So(fetcher.calls, ShouldEqual, 1)
					So(res.Source, ShouldEqual, types.SourceTier3)
					So(res.Record.Identity, ShouldResemble, model.Identity{
						Make: "Trek", Model: "FX 3", Year: 2024, MakerID: "mk_trek",
					})
				})
			})
		})

		Convey("When no tier has anything and live fetch is disabled", func() {
			r := resolve.New(store, resolve.WithMakers(makers()))
			_, err := r.Resolve(ctx, item("k"))

			Convey("Then the error reports a missing record", func() {
				var ide *resolve.InsufficientDataError
				So(errors.As(err, &ide), ShouldBeTrue)
				So(ide.Missing, ShouldResemble, []string{"record"})
				So(ide.Source, ShouldEqual, types.Source(""))
			})
		})

		Convey("When the live page lacks identity the catalog cannot supply", func() {
			r := resolve.New(store, resolve.WithMakers(makers()),
				resolve.WithLiveFetch(&fakeFetcher{html: "<html></html>"}, &fakeExtractor{rec: domRecord("Mystery bike")}))
			res, err := r.Resolve(ctx, item("k"))

			Convey("Then the record is returned with an insufficient-data error", func() {
				var ide *resolve.InsufficientDataError
				So(errors.As(err, &ide), ShouldBeTrue)
				So(ide.Source, ShouldEqual, types.SourceTier3)
				So(res.Record, ShouldNotBeNil)
				So(errors.Is(err, resolve.ErrLiveFetchDisabled), ShouldBeFalse)
			})
		})

		Convey("When the fetch fails", func() {
			boom := errors.New("navigation failed")
			r := resolve.New(store, resolve.WithMakers(makers()),
				resolve.WithLiveFetch(&fakeFetcher{err: boom}, &fakeExtractor{}))
			_, err := r.Resolve(ctx, item("k"))

			Convey("Then the fetch error passes through unchanged", func() {
				So(err, ShouldEqual, boom)
			})
		})

		Convey("When the page is gone", func() {
			gone := fmt.Errorf("%w: https://bikes.example.com/k", fetch.ErrNotFound)
			extractor := &fakeExtractor{rec: domRecord("Trek FX 3 2024")}
			r := resolve.New(store, resolve.WithMakers(makers()),
				resolve.WithLiveFetch(&fakeFetcher{err: gone}, extractor))
			res, err := r.Resolve(ctx, item("k"))

			Convey("Then not-found is reported and nothing is extracted", func() {
				So(errors.Is(err, fetch.ErrNotFound), ShouldBeTrue)
				So(res.Record, ShouldBeNil)
				So(extractor.calls, ShouldEqual, 0)
			})
		})

		Convey("When another worker holds the claim", func() {
			fetcher := &fakeFetcher{html: "<html></html>"}
			r := resolve.New(store, resolve.WithMakers(makers()),
				resolve.WithLocker(&fakeLocker{held: true}),
				resolve.WithLiveFetch(fetcher, &fakeExtractor{rec: domRecord("Trek FX 3 2024")}))
			_, err := r.Resolve(ctx, item("k"))

			Convey("Then ErrClaimed is returned and nothing is fetched", func() {
				So(err, ShouldEqual, resolve.ErrClaimed)
				So(fetcher.calls, ShouldEqual, 0)
			})
		})

		Convey("When tier 2 appears while the claim is being acquired", func() {
			fetcher := &fakeFetcher{html: "<html></html>"}
			locker := &fakeLocker{onLock: func() {
				store.raw["k"] = &model.RawRecord{
					Key: "k", Success: true,
					Identity: model.Identity{Make: "Trek", Model: "FX 3", Year: 2024, MakerID: "mk_trek"},
					Payload:  model.DomScraped{Name: "FX 3"},
				}
			}}
			r := resolve.New(store, resolve.WithMakers(makers()), resolve.WithLocker(locker),
				resolve.WithLiveFetch(fetcher, &fakeExtractor{rec: domRecord("Trek FX 3 2024")}))
			res, err := r.Resolve(ctx, item("k"))

			Convey("Then the stored record is used and the claim released", func() {
				So(err, ShouldBeNil)
				So(res.Source, ShouldEqual, types.SourceTier2)
				So(fetcher.calls, ShouldEqual, 0)
				So(locker.released, ShouldEqual, 1)
			})
		})

		Convey("When the store fails", func() {
			store.err = errors.New("db down")
			r := resolve.New(store)
			_, err := r.Resolve(ctx, item("k"))

			Convey("Then the error is wrapped", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "tier1 lookup k")
			})
		})
	})
}
