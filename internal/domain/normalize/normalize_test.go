package normalize_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func structured(product map[string]any) *model.RawRecord {
	return &model.RawRecord{
		Key:     "trek-fx3-2024",
		URL:     "https://bikes.example.com/trek/fx3",
		Success: true,
		Payload: model.StructuredPayload{Origin: "ld+json", Product: product},
	}
}

func TestReconcile(t *testing.T) {
	Convey("Given products naming the same fields differently", t, func() {
		camel := structured(map[string]any{
			"brand":     map[string]any{"@type": "Brand", "name": "Trek"},
			"model":     "FX 3 Disc",
			"modelYear": "2024",
			"makerId":   "mk_trek",
		})
		snake := structured(map[string]any{
			"Manufacturer": "Trek",
			"model_name":   "FX 3 Disc",
			"model_year":   2024.0,
			"maker_id":     "mk_trek",
		})

		Convey("Then both reconcile to the same identity", func() {
			a := normalize.IdentityOf(camel)
			b := normalize.IdentityOf(snake)
			So(a, ShouldResemble, model.Identity{Make: "Trek", Model: "FX 3 Disc", Year: 2024, MakerID: "mk_trek"})
			So(b, ShouldResemble, a)
		})
	})

	Convey("Given two spellings of the same field with different values", t, func() {
		rec := structured(map[string]any{
			"brand":      "Trek",
			"model":      "FX 3 Disc",
			"Model-Year": "2023",
			"model_year": 2024.0,
			"model year": "2025",
		})

		Convey("Then the same one wins every time", func() {
			for i := 0; i < 50; i++ {
				So(normalize.IdentityOf(rec).Year, ShouldEqual, 2023)
			}
		})
	})

	Convey("Given a DOM-scraped record", t, func() {
		rec := &model.RawRecord{
			Key:     "k",
			Success: true,
			Payload: model.DomScraped{
				Name: "Specialized Tarmac SL8 Expert 2024",
				Meta: map[string]string{"product:brand": "Specialized"},
				Specs: map[string]string{
					"Frame": "FACT 10r carbon", "Fork": "FACT carbon", "Headset": "integrated",
				},
				Components: map[string]map[string]string{
					"drivetrain": {"Shifters": "SRAM Rival AXS", "Chain": "Rival"},
				},
				SizeGeometry: map[string]map[string]string{"54": {"Reach": "380"}, "56": {"Reach": "390"}},
				Prices:       []model.PriceToken{{Kind: types.PriceMSRP, Raw: "$6,500.00"}},
				Images:       []string{"a.jpg", "a.jpg", "b.jpg"},
			},
		}

		f := normalize.Reconcile(rec)

		Convey("Then identity is taken from meta tags and the product name", func() {
			So(f.Identity.Make, ShouldEqual, "Specialized")
			So(f.Identity.Model, ShouldEqual, "Tarmac SL8 Expert")
			So(f.Identity.Year, ShouldEqual, 2024)
		})

		Convey("Then stats count each category", func() {
			st := f.Stats()
			So(st.Specs, ShouldEqual, 3)
			So(st.Components, ShouldEqual, 2)
			So(st.GeometrySizes, ShouldEqual, 2)
			So(st.Prices, ShouldEqual, 1)
			So(st.Images, ShouldEqual, 2)
			So(f.Sizes, ShouldResemble, []string{"54", "56"})
		})
	})

	Convey("Given an envelope identity merged from the catalog", t, func() {
		rec := structured(map[string]any{"name": "FX 3"})
		rec.Identity = model.Identity{Make: "Trek", Model: "FX 3", Year: 2023}

		Convey("Then the envelope wins", func() {
			So(normalize.IdentityOf(rec).Year, ShouldEqual, 2023)
		})
	})
}

func TestParseMoney(t *testing.T) {
	Convey("Given price strings in several conventions", t, func() {
		cases := []struct {
			in       string
			minor    int64
			currency string
		}{
			{"$1,299.99", 129999, "USD"},
			{"1.299,99 €", 129999, "EUR"},
			{"£899", 89900, "GBP"},
			{"2499", 249900, "USD"},
			{"12,50 EUR", 1250, "EUR"},
			{"CA$3,100", 310000, "CAD"},
			{"1.299 €", 129900, "EUR"},
		}
		for _, c := range cases {
			amount, currency, err := normalize.ParseMoney(c.in, "usd")
			So(err, ShouldBeNil)
			So(amount, ShouldEqual, c.minor)
			So(currency, ShouldEqual, c.currency)
		}

		Convey("And a string with no number is rejected", func() {
			_, _, err := normalize.ParseMoney("call for price", "USD")
			So(errors.Is(err, normalize.ErrNoAmount), ShouldBeTrue)
		})

		Convey("And an amount too large for minor units is rejected", func() {
			_, _, err := normalize.ParseMoney("$92233720368547758", "USD")
			So(errors.Is(err, normalize.ErrAmountRange), ShouldBeTrue)

			_, _, err = normalize.ParseMoney("$92233720368547758.07", "USD")
			So(errors.Is(err, normalize.ErrAmountRange), ShouldBeTrue)
		})

		Convey("And the largest representable amount is kept", func() {
			amount, _, err := normalize.ParseMoney("¥9223372036854775807", "USD")
			So(err, ShouldBeNil)
			So(amount, ShouldEqual, int64(9223372036854775807))
		})
	})
}

func TestParseYear(t *testing.T) {
	Convey("Given year representations", t, func() {
		for in, want := range map[any]int{2024.0: 2024, "2024": 2024, "MY24": 2024, "my2023": 2023, "2022 model": 2022} {
			got, ok := normalize.ParseYear(in)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, want)
		}
		_, ok := normalize.ParseYear("n/a")
		So(ok, ShouldBeFalse)
		_, ok = normalize.ParseYear(3024.0)
		So(ok, ShouldBeFalse)
	})
}

func TestInferCategory(t *testing.T) {
	Convey("Given product text", t, func() {
		So(normalize.InferCategory("Fuel EX trail bike"), ShouldEqual, types.CategoryMountain)
		So(normalize.InferCategory("Domane endurance road"), ShouldEqual, types.CategoryRoad)
		So(normalize.InferCategory("Checkpoint gravel"), ShouldEqual, types.CategoryGravel)
		So(normalize.InferCategory("FX city commuter"), ShouldEqual, types.CategoryHybrid)
		So(normalize.InferCategory("Allant+ electric"), ShouldEqual, types.CategoryElectric)
		So(normalize.InferCategory("Kids balance bike"), ShouldEqual, types.CategoryOther)

		Convey("Then mountain wins over electric for an electric mountain bike", func() {
			So(normalize.InferCategory("Rail electric mountain bike"), ShouldEqual, types.CategoryMountain)
		})
	})
}

func TestElectric(t *testing.T) {
	Convey("Given components with an e-bike system", t, func() {
		f := normalize.Fields{Components: map[string]map[string]string{
			"electric": {
				"Motor":   "Bosch Performance Line CX, 250W, 85Nm",
				"Battery": "Bosch PowerTube 0.75 kWh",
				"Display": "Kiox 300",
			},
		}}
		d := normalize.Electric(f)

		Convey("Then numbers are parsed from the text", func() {
			So(d, ShouldNotBeNil)
			So(d.MotorPowerW, ShouldEqual, 250)
			So(d.MotorTorqueNm, ShouldEqual, 85)
			So(d.BatteryWh, ShouldEqual, 750)
			So(d.Display, ShouldEqual, "Kiox 300")
		})
	})

	Convey("Given a motor description without numbers", t, func() {
		d := normalize.Electric(normalize.Fields{Specs: map[string]string{"Motor": "Shimano EP8"}})

		Convey("Then only text fields are kept", func() {
			So(d.Motor, ShouldEqual, "Shimano EP8")
			So(d.MotorPowerW, ShouldEqual, 0)
			So(d.BatteryWh, ShouldEqual, 0)
		})
	})

	Convey("Given a bike with no electric components", t, func() {
		d := normalize.Electric(normalize.Fields{Specs: map[string]string{"Frame": "Alpha aluminum", "Display": "none"}})
		So(d, ShouldBeNil)
	})

	Convey("Given a hardtail with a dropper remote", t, func() {
		f := normalize.Fields{Components: map[string]map[string]string{
			"electric": {"Seatpost remote": "SRAM AXS dropper remote"},
			"cockpit":  {"Lockout remote": "RockShox TwistLoc", "Controller": "none"},
		}}

		Convey("Then no electric drive is derived", func() {
			So(normalize.Electric(f), ShouldBeNil)
		})
	})
}

func TestSufficiency(t *testing.T) {
	Convey("Given a maker directory", t, func() {
		dir := normalize.NewStaticDirectory(map[string]string{"Trek": "mk_trek"})
		s := normalize.Sufficiency{Makers: dir}
		full := model.Identity{Make: "Trek", Model: "FX 3", Year: 2024, MakerID: "mk_trek"}

		So(s.Sufficient(full), ShouldBeTrue)

		Convey("Then a missing maker id is insufficient", func() {
			id := full
			id.MakerID = ""
			So(s.Missing(id), ShouldResemble, []string{normalize.MissingMakerID})
		})

		Convey("Then an unknown maker id is insufficient", func() {
			id := full
			id.MakerID = "mk_unknown"
			So(s.Missing(id), ShouldResemble, []string{normalize.MissingUnknownMakerID})
		})

		Convey("Then lookups ignore case and punctuation", func() {
			id, ok := dir.Lookup("TREK ")
			So(ok, ShouldBeTrue)
			So(id, ShouldEqual, "mk_trek")
		})
	})
}

func TestNormalizer(t *testing.T) {
	Convey("Given a normalizer with a maker directory", t, func() {
		n := normalize.New(
			normalize.WithMakers(normalize.NewStaticDirectory(map[string]string{"Trek": "mk_trek"})),
			normalize.WithDefaultCurrency("USD"),
			normalize.WithClock(func() time.Time { return fixedNow }),
		)
		ctx := context.Background()

		Convey("When the record is complete", func() {
			rec := structured(map[string]any{
				"@type":       "Product",
				"name":        "Trek FX 3 Disc",
				"brand":       map[string]any{"name": "Trek"},
				"modelYear":   "MY24",
				"description": "A fast fitness hybrid for the city",
				"offers":      map[string]any{"price": "1049.99", "priceCurrency": "USD"},
				"msrp":        "$1,199.99",
				"specifications": []any{
					map[string]any{"name": "Frame", "value": "Alpha Gold Aluminum"},
					map[string]any{"name": "Wheels", "value": `Bontrager 700c rims`},
				},
				"image": []any{"https://cdn.example.com/1.jpg", map[string]any{"url": "https://cdn.example.com/2.jpg"}},
			})
			c, err := n.Normalize(ctx, rec)

			Convey("Then a canonical record is produced", func() {
				So(err, ShouldBeNil)
				So(c.Make, ShouldEqual, "Trek")
				So(c.Model, ShouldEqual, "FX 3 Disc")
				So(c.Year, ShouldEqual, 2024)
				So(c.MakerID, ShouldEqual, "mk_trek")
				So(c.Category, ShouldEqual, types.CategoryHybrid)
				So(c.Material, ShouldEqual, "aluminum")
				So(c.WheelSize, ShouldEqual, "700c")
				So(c.Electric, ShouldBeNil)
				So(c.Media, ShouldHaveLength, 2)
				So(c.Pricing, ShouldContain, model.Price{Kind: types.PriceCurrent, AmountMinor: 104999, Currency: "USD"})
				So(c.Pricing, ShouldContain, model.Price{Kind: types.PriceMSRP, AmountMinor: 119999, Currency: "USD"})
				So(c.RawKey, ShouldEqual, "trek-fx3-2024")
				So(c.UpdatedAt.Equal(fixedNow), ShouldBeTrue)
				So(strings.HasPrefix(c.SyntheticKey, "bk_"), ShouldBeTrue)
				So(c.SyntheticKey, ShouldHaveLength, 19)
			})
		})

		Convey("When an explicit category is present", func() {
			rec := structured(map[string]any{
				"brand": "Trek", "model": "Rail 9.8", "year": 2024,
				"category": "Electric Mountain", "name": "Rail road-ready",
			})
			c, err := n.Normalize(ctx, rec)

			Convey("Then it wins over inference from the name", func() {
				So(err, ShouldBeNil)
				So(c.Category, ShouldEqual, types.CategoryMountain)
			})
		})

		Convey("When the year is missing", func() {
			rec := structured(map[string]any{"brand": "Trek", "model": "FX 3"})
			c, err := n.Normalize(ctx, rec)

			Convey("Then the record is rejected", func() {
				So(c, ShouldBeNil)
				So(errors.Is(err, normalize.ErrMissingIdentity), ShouldBeTrue)
			})
		})
	})
}

func TestSyntheticKey(t *testing.T) {
	Convey("Given two different catalog keys", t, func() {
		a := normalize.SyntheticKey("trek-domane-sl6-2024")
		b := normalize.SyntheticKey("trek-emonda-sl6-2024")

		Convey("Then the keys are stable and distinct", func() {
			So(a, ShouldEqual, normalize.SyntheticKey("trek-domane-sl6-2024"))
			So(a, ShouldNotEqual, b)
		})
	})
}
