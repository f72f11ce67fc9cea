package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/persist"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func rawRecord(key string) model.RawRecord {
	return model.RawRecord{
		Key:         key,
		Source:      types.SourceTier3,
		ExtractedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Success:     true,
		Identity:    model.Identity{Make: "Trek", Model: "FX 3", Year: 2024, MakerID: "mk_trek"},
		Payload:     model.DomScraped{Name: "Trek FX 3", Specs: map[string]string{"Frame": "Alpha Aluminum"}},
	}
}

func canonical(syntheticKey, modelName string) *model.CanonicalRecord {
	return &model.CanonicalRecord{SyntheticKey: syntheticKey, Make: "Trek", Model: modelName, Year: 2024, MakerID: "mk_trek"}
}

func TestMemoryStore_Transactions(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty memory store", t, func() {
		store, err := NewMemoryStore(ctx)
		So(err, ShouldBeNil)
		Reset(func() { _ = store.Close() })

		Convey("When a transaction commits", func() {
			err := store.WithTransaction(ctx, func(ctx context.Context, tx persist.Tx) error {
				if err := tx.InsertRaw(ctx, rawRecord("a")); err != nil {
					return err
				}
				exists, err := tx.RawExists(ctx, "a")
				So(exists, ShouldBeTrue)
				So(err, ShouldBeNil)
				return tx.UpsertCanonical(ctx, canonical("bk_a", "FX 3"))
			})

			Convey("Then its writes become visible together", func() {
				So(err, ShouldBeNil)
				raw, _ := store.Raw(ctx, "a")
				So(raw, ShouldNotBeNil)
				d, ok := raw.Dom()
				So(ok, ShouldBeTrue)
				So(d.Specs["Frame"], ShouldEqual, "Alpha Aluminum")
				c, _ := store.Canonical(ctx, "bk_a")
				So(c.Model, ShouldEqual, "FX 3")
			})

			Convey("And another key claims the same combination", func() {
				var owner string
				_ = store.WithTransaction(ctx, func(ctx context.Context, tx persist.Tx) error {
					owner, _ = tx.CombinationOwner(ctx, canonical("bk_b", "fx  3").Combination())
					return nil
				})

				Convey("Then the first owner is reported", func() {
					So(owner, ShouldEqual, "bk_a")
				})
			})
		})

		Convey("When a transaction returns an error", func() {
			boom := errors.New("boom")
			err := store.WithTransaction(ctx, func(ctx context.Context, tx persist.Tx) error {
				_ = tx.InsertRaw(ctx, rawRecord("a"))
				_ = tx.UpsertCanonical(ctx, canonical("bk_a", "FX 3"))
				return boom
			})

			Convey("Then nothing is applied", func() {
				So(err, ShouldEqual, boom)
				raw, err := store.Raw(ctx, "a")
				So(err, ShouldBeNil)
				So(raw, ShouldBeNil)
				counts, _ := store.Count(ctx)
				So(counts[StoreCanonical], ShouldEqual, 0)
			})
		})

		Convey("When a transaction panics", func() {
			So(func() {
				_ = store.WithTransaction(ctx, func(ctx context.Context, tx persist.Tx) error {
					_ = tx.InsertRaw(ctx, rawRecord("a"))
					panic("bad")
				})
			}, ShouldPanic)

			Convey("Then the store is unchanged and still usable", func() {
				raw, _ := store.Raw(ctx, "a")
				So(raw, ShouldBeNil)
				err := store.WithTransaction(ctx, func(ctx context.Context, tx persist.Tx) error {
					return tx.InsertRaw(ctx, rawRecord("a"))
				})
				So(err, ShouldBeNil)
			})
		})

		Convey("When lookups miss", func() {
			comp, err1 := store.Comprehensive(ctx, "nope")
			fail, err2 := store.LastFailure(ctx, "nope")

			Convey("Then nil is returned without an error", func() {
				So(comp, ShouldBeNil)
				So(fail, ShouldBeNil)
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
			})
		})

		Convey("When failures are recorded twice for a key", func() {
			_ = store.RecordFailure(ctx, model.FailureRecord{Key: "a", Reason: types.FailureNetwork})
			_ = store.RecordFailure(ctx, model.FailureRecord{Key: "a", Reason: types.FailureTimeout})

			Convey("Then only the latest is kept", func() {
				f, _ := store.LastFailure(ctx, "a")
				So(f.Reason, ShouldEqual, types.FailureTimeout)
			})
		})

		Convey("When the store is closed", func() {
			So(store.Close(), ShouldBeNil)

			Convey("Then writes are rejected", func() {
				err := store.WithTransaction(ctx, func(context.Context, persist.Tx) error { return nil })
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
				So(errors.Is(store.RecordFailure(ctx, model.FailureRecord{Key: "a"}), ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestMemoryStore_Snapshot(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store with a snapshot path", t, func() {
		path := filepath.Join(t.TempDir(), "state", "snapshot.json")
		store, err := NewMemoryStore(ctx, WithSnapshotPath(path))
		So(err, ShouldBeNil)

		_ = store.PutComprehensive(ctx, model.ComprehensiveRecord{
			Key: "a", Payload: json.RawMessage(`{"product":{"name":"FX 3"}}`),
		})
		_ = store.WithTransaction(ctx, func(ctx context.Context, tx persist.Tx) error {
			_ = tx.InsertRaw(ctx, rawRecord("a"))
			return tx.UpsertCanonical(ctx, canonical("bk_a", "FX 3"))
		})
		_ = store.RecordFailure(ctx, model.FailureRecord{Key: "b", Reason: types.FailureNotFound})

		Convey("When it is closed and reopened", func() {
			So(store.Close(), ShouldBeNil)
			reopened, err := NewMemoryStore(ctx, WithSnapshotPath(path))
			So(err, ShouldBeNil)
			defer reopened.Close()

			Convey("Then every store comes back", func() {
				counts, _ := reopened.Count(ctx)
				So(counts, ShouldResemble, Counts{
					StoreComprehensive: 1, StoreRaw: 1, StoreFailures: 1, StoreCanonical: 1,
				})
				raw, _ := reopened.Raw(ctx, "a")
				_, isDom := raw.Dom()
				So(isDom, ShouldBeTrue)
				comp, _ := reopened.Comprehensive(ctx, "a")
				So(string(comp.Payload), ShouldContainSubstring, "FX 3")
			})
		})

		Convey("When the snapshot is corrupt", func() {
			So(store.Close(), ShouldBeNil)
			So(writeFile(path, "{not json"), ShouldBeNil)
			_, err := NewMemoryStore(ctx, WithSnapshotPath(path))

			Convey("Then opening fails with a snapshot error", func() {
				So(errors.Is(err, ErrSnapshot), ShouldBeTrue)
			})
		})
	})
}

func TestMigrateURL(t *testing.T) {
	Convey("Given postgres DSNs", t, func() {
		So(migrateURL("postgres://u:p@db:5432/bikes"), ShouldEqual, "pgx5://u:p@db:5432/bikes")
		So(migrateURL("postgresql://db/bikes"), ShouldEqual, "pgx5://db/bikes")
		So(migrateURL("pgx5://db/bikes"), ShouldEqual, "pgx5://db/bikes")
	})
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
