package dataset_test

import (
	"testing"

	"github.com/okian/storymap/internal/domain/dataset"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	. "github.com/smartystreets/goconvey/convey"
)

func story(lon, lat float64, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{lon, lat})
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func collection(features ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	return fc
}

func TestYears(t *testing.T) {
	Convey("Given a collection with mixed year values", t, func() {
		fc := collection(
			story(0, 0, map[string]any{"year": "2021"}),
			story(1, 1, map[string]any{"year": 2023.0}),
			story(2, 2, map[string]any{"year": " 2021 "}),
			story(3, 3, map[string]any{"year": ""}),
			story(4, 4, map[string]any{"year": nil}),
			story(5, 5, map[string]any{}),
			story(6, 6, map[string]any{"year": "1999"}),
		)

		Convey("When computing the year set", func() {
			years := dataset.Years(fc)

			Convey("Then each non-blank year appears once, newest first", func() {
				So(years, ShouldResemble, []string{"2023", "2021", "1999"})
			})
		})

		Convey("When one value is not numeric", func() {
			fc.Append(story(7, 7, map[string]any{"year": "unknown"}))
			years := dataset.Years(fc)

			Convey("Then ordering falls back to descending text order", func() {
				So(years, ShouldResemble, []string{"unknown", "2023", "2021", "1999"})
			})
		})

		Convey("Numeric ordering does not compare as text", func() {
			fc := collection(
				story(0, 0, map[string]any{"year": "999"}),
				story(0, 0, map[string]any{"year": "1000"}),
			)
			So(dataset.Years(fc), ShouldResemble, []string{"1000", "999"})
		})

		Convey("Infinity spellings are not numeric years", func() {
			fc := collection(
				story(0, 0, map[string]any{"year": "1999"}),
				story(0, 0, map[string]any{"year": "Inf"}),
				story(0, 0, map[string]any{"year": "2020"}),
			)
			So(dataset.Years(fc), ShouldResemble, []string{"Inf", "2020", "1999"})

			fc = collection(
				story(0, 0, map[string]any{"year": "-infinity"}),
				story(0, 0, map[string]any{"year": "2020"}),
			)
			So(dataset.Years(fc)[1], ShouldEqual, "-infinity")
		})

		Convey("A nil or empty collection yields no years", func() {
			So(dataset.Years(nil), ShouldBeEmpty)
			So(dataset.Years(collection()), ShouldBeEmpty)
		})
	})
}

func TestFilterByYear(t *testing.T) {
	Convey("Given a loaded collection", t, func() {
		fc := collection(
			story(10, 10, map[string]any{"year": "2023", "title": "a"}),
			story(20, 20, map[string]any{"year": 2021.0, "title": "b"}),
			story(30, 30, map[string]any{"year": "2021 ", "title": "c"}),
			story(40, 40, map[string]any{"title": "d"}),
			story(50, 50, map[string]any{"year": "  ", "title": "e"}),
		)

		Convey("When filtering by all", func() {
			out := dataset.FilterByYear(fc, dataset.AllYears)

			Convey("Then the collection is returned unchanged", func() {
				So(out, ShouldPointTo, fc)
				So(len(out.Features), ShouldEqual, 5)
			})
		})

		Convey("When the selection is empty", func() {
			So(dataset.FilterByYear(fc, ""), ShouldPointTo, fc)
		})

		Convey("When filtering by a specific year", func() {
			out := dataset.FilterByYear(fc, "2021")

			Convey("Then only exact normalized matches are kept", func() {
				So(len(out.Features), ShouldEqual, 2)
				for _, f := range out.Features {
					So(dataset.YearOf(f), ShouldEqual, "2021")
				}
			})

			Convey("And the original is untouched", func() {
				So(len(fc.Features), ShouldEqual, 5)
				So(out, ShouldNotPointTo, fc)
			})
		})

		Convey("When filtering by a year nobody has", func() {
			So(dataset.FilterByYear(fc, "1900").Features, ShouldBeEmpty)
		})

		Convey("Comparison is textual, not numeric", func() {
			So(dataset.FilterByYear(fc, "2021.0").Features, ShouldBeEmpty)
		})
	})
}

func TestProp(t *testing.T) {
	Convey("Given property values of several JSON types", t, func() {
		f := story(0, 0, map[string]any{
			"title":  "Hello",
			"num":    2021.0,
			"frac":   1.5,
			"flag":   true,
			"null":   nil,
			"nested": map[string]any{"a": 1.0},
		})

		v, ok := dataset.Prop(f, "title")
		So(v, ShouldEqual, "Hello")
		So(ok, ShouldBeTrue)

		v, _ = dataset.Prop(f, "num")
		So(v, ShouldEqual, "2021")
		v, _ = dataset.Prop(f, "frac")
		So(v, ShouldEqual, "1.5")
		v, _ = dataset.Prop(f, "flag")
		So(v, ShouldEqual, "true")
		v, _ = dataset.Prop(f, "nested")
		So(v, ShouldEqual, `{"a":1}`)

		v, ok = dataset.Prop(f, "null")
		So(v, ShouldEqual, "")
		So(ok, ShouldBeFalse)

		_, ok = dataset.Prop(f, "missing")
		So(ok, ShouldBeFalse)

		_, ok = dataset.Prop(nil, "title")
		So(ok, ShouldBeFalse)
	})
}

func TestClean(t *testing.T) {
	Convey("Given features with and without usable points", t, func() {
		line := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})
		noGeom := &geojson.Feature{Type: "Feature", Properties: geojson.Properties{}}
		fc := collection(
			story(1, 2, nil),
			line,
			noGeom,
			story(0, 95, nil),
		)

		out, dropped := dataset.Clean(fc)
		So(dropped, ShouldEqual, 3)
		So(len(out.Features), ShouldEqual, 1)
	})
}
